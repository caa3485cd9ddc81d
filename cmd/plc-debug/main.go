package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/thatsimonsguy/plc-dashboard/db"
	"github.com/thatsimonsguy/plc-dashboard/internal/configstore"
	"github.com/thatsimonsguy/plc-dashboard/internal/logging"
	"github.com/thatsimonsguy/plc-dashboard/internal/model"
	"github.com/thatsimonsguy/plc-dashboard/internal/plc"
	"github.com/thatsimonsguy/plc-dashboard/system/startup"
)

type options struct {
	command    string
	document   string
	backend    string
	driver     string
	modbusPort int
	timeout    time.Duration

	ip   string
	rack int
	slot int
	id   string
	from string

	binary  string
	user    string
	workdir string
	unit    string
}

func main() {
	var o options
	fs := pflag.NewFlagSet("plc-debug", pflag.ExitOnError)
	fs.StringVar(&o.command, "cmd", "", "Command to run: test-connection, read-point, dump-config, import-config, install-service")
	fs.StringVar(&o.document, "document", "data/dashboard_config.json", "Path of the dashboard document")
	fs.StringVar(&o.backend, "backend", "file", "Document backend (file, sqlite)")
	fs.StringVar(&o.driver, "driver", "s7", "PLC driver (s7, modbus)")
	fs.IntVar(&o.modbusPort, "modbus-port", 502, "Modbus TCP port")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Second, "Connect and read timeout")
	fs.StringVar(&o.ip, "ip", "", "PLC address (defaults to the stored settings)")
	fs.IntVar(&o.rack, "rack", -1, "Rack (defaults to the stored settings)")
	fs.IntVar(&o.slot, "slot", -1, "Slot (defaults to the stored settings)")
	fs.StringVar(&o.id, "id", "", "Data point id for read-point")
	fs.StringVar(&o.from, "from", "", "JSON file for import-config")
	fs.StringVar(&o.binary, "binary", "/usr/local/bin/plc-dashboard", "Service binary for install-service")
	fs.StringVar(&o.user, "user", "", "Service user for install-service")
	fs.StringVar(&o.workdir, "workdir", "", "Working directory for install-service")
	fs.StringVar(&o.unit, "unit", startup.DefaultUnitPath, "Unit file path for install-service")
	help := fs.BoolP("help", "h", false, "Show help")
	fs.Parse(os.Args[1:])

	if *help || o.command == "" {
		fmt.Println("\nUsage of plc-debug:")
		fs.PrintDefaults()
		os.Exit(0)
	}

	logging.Init(zerolog.WarnLevel, "")

	if err := run(o); err != nil {
		fmt.Printf("Command %s failed: %v\n", o.command, err)
		os.Exit(1)
	}
}

func run(o options) error {
	switch o.command {
	case "test-connection":
		return testConnection(o)
	case "read-point":
		if o.id == "" {
			return fmt.Errorf("data point id is required")
		}
		return readPoint(o)
	case "dump-config":
		return dumpConfig(o)
	case "import-config":
		if o.backend != "sqlite" || o.from == "" {
			return fmt.Errorf("import-config needs --backend sqlite and --from")
		}
		if err := db.ImportDocumentCLI(o.document, o.from); err != nil {
			return err
		}
		fmt.Printf("Imported %s into %s\n", o.from, o.document)
		return nil
	case "install-service":
		err := startup.InstallService(startup.ServiceOptions{
			UnitPath:   o.unit,
			User:       o.user,
			WorkingDir: o.workdir,
			Binary:     o.binary,
			Args:       []string{"--document", o.document, "--backend", o.backend, "--driver", o.driver},
		})
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", o.unit)
		return nil
	default:
		return fmt.Errorf("invalid command")
	}
}

func loadStore(o options) (*configstore.Store, func() error, error) {
	backend, closeFn, err := db.OpenConfigBackend(o.backend, o.document)
	if err != nil {
		return nil, nil, err
	}
	store := configstore.New(backend)
	if err := store.Load(); err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}

func settingsFor(o options, stored model.ControllerSettings) model.ControllerSettings {
	if o.ip != "" {
		stored.IPAddress = o.ip
	}
	if o.rack >= 0 {
		stored.Rack = o.rack
	}
	if o.slot >= 0 {
		stored.Slot = o.slot
	}
	return stored
}

func newClient(o options) (*plc.Client, error) {
	dial, err := plc.NewDialer(o.driver, o.modbusPort, o.timeout)
	if err != nil {
		return nil, err
	}
	return plc.NewClient(dial), nil
}

func testConnection(o options) error {
	store, closeFn, err := loadStore(o)
	if err != nil {
		return err
	}
	defer closeFn()

	client, err := newClient(o)
	if err != nil {
		return err
	}
	settings := settingsFor(o, store.Settings())
	if !client.TestConnection(settings) {
		return fmt.Errorf("%s (rack %d, slot %d): %s", settings.IPAddress, settings.Rack, settings.Slot, client.LastError())
	}
	fmt.Printf("Connection to %s (rack %d, slot %d) OK\n", settings.IPAddress, settings.Rack, settings.Slot)
	return nil
}

func readPoint(o options) error {
	store, closeFn, err := loadStore(o)
	if err != nil {
		return err
	}
	defer closeFn()

	dp, ok := store.DataPoint(o.id)
	if !ok {
		return fmt.Errorf("data point %s not found", o.id)
	}

	client, err := newClient(o)
	if err != nil {
		return err
	}
	defer client.Close()

	if !client.Connect(settingsFor(o, store.Settings())) {
		return fmt.Errorf("connect: %s", client.LastError())
	}
	result := client.Read(dp)
	if result.Status != plc.ReadOK {
		return fmt.Errorf("read DB%d.%d as %s: %s", dp.DBNumber, dp.StartByte, dp.DataType, result)
	}
	fmt.Printf("%s (DB%d.%d %s) = %s\n", dp.Name, dp.DBNumber, dp.StartByte, dp.DataType, dp.FormatValue(result.Ptr()))
	return nil
}

func dumpConfig(o options) error {
	store, closeFn, err := loadStore(o)
	if err != nil {
		return err
	}
	defer closeFn()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(store.Document())
}
