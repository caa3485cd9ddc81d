package db

import (
	"fmt"
	"os"
)

// DumpDocumentCLI returns the stored document of the database at dbPath.
func DumpDocumentCLI(dbPath string) (string, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	doc, err := GetDocument(conn)
	if err != nil {
		return "", err
	}
	return doc.Body, nil
}

// ImportDocumentCLI stores the contents of jsonPath as the document in the
// database at dbPath. The content is not validated; the service migrates and
// normalises it on next load.
func ImportDocumentCLI(dbPath, jsonPath string) error {
	body, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", jsonPath, err)
	}

	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	return SaveDocument(conn, string(body), now())
}
