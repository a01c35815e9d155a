package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"m3dmanager/config"
	"m3dmanager/host/firmware"
	"m3dmanager/host/printer"
	"m3dmanager/host/serial"
	"m3dmanager/host/simulator"
	"m3dmanager/logging"
	"m3dmanager/protocol"
)

// driverSim runs against a simulated printer instead of hardware
const driverSim = "sim"

var (
	start      bool
	bootloader bool
	rom        string
	manual     string

	configPath = flag.String("config", "", "JSON configuration file")
	debug      = flag.Bool("debug", false, "Enable debug output")
	driver     = flag.String("driver", "", "Serial driver: native, tarm or sim")
)

func init() {
	flag.BoolVar(&start, "s", false, "Switch the printer into firmware mode")
	flag.BoolVar(&start, "start", false, "Switch the printer into firmware mode")
	flag.BoolVar(&bootloader, "b", false, "Switch the printer into bootloader mode")
	flag.BoolVar(&bootloader, "bootloader", false, "Switch the printer into bootloader mode")
	flag.StringVar(&rom, "r", "", "Install the provided firmware ROM")
	flag.StringVar(&rom, "rom", "", "Install the provided firmware ROM")
	flag.StringVar(&rom, "firmwarerom", "", "Install the provided firmware ROM")
	flag.StringVar(&manual, "m", "", "Manually send commands using protocol Repetier or RepRap")
	flag.StringVar(&manual, "manual", "", "Manually send commands using protocol Repetier or RepRap")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: m3d-manager [-s | -b | -r firmware.rom | -m protocol] [serialport]\n\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nserialport: the printer's serial port, found automatically if not specified\n")
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	fmt.Printf("M3D Manager V%s\n\n", protocol.Version)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *driver != "" {
		cfg.Driver = *driver
	}
	if flag.NArg() > 0 {
		cfg.Port = flag.Arg(0)
	}

	log := logging.New(os.Stderr, cfg.Debug || *debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := &progressReporter{}
	session := printer.New(newProvider(cfg, log),
		printer.WithConfig(cfg),
		printer.WithLogger(log),
		printer.WithProgressCallback(progress.update),
	)
	defer session.Close()

	var err error
	switch {
	case start:
		fmt.Println("Switching printer into firmware mode")
		err = switchMode(ctx, session, cfg.Port, printer.ModeFirmware)
	case bootloader:
		fmt.Println("Switching printer into bootloader mode")
		err = switchMode(ctx, session, cfg.Port, printer.ModeBootloader)
	case rom != "":
		fmt.Println("Installing firmware")
		err = installFirmware(ctx, session, rom, cfg.Port)
	case manual != "":
		fmt.Println("Starting manual mode")
		err = manualMode(ctx, session, manual, cfg.Port)
	default:
		fmt.Println("Invalid parameters")
		flag.Usage()
		return 1
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("Interrupted")
		} else {
			fmt.Println(err)
		}
		return 1
	}
	return 0
}

func newProvider(cfg *config.Config, log zerolog.Logger) serial.Provider {
	if cfg.Driver == driverSim {
		log.Warn().Msg("using simulated printer")
		return simulator.NewBus()
	}

	sys := serial.NewSystem()
	sys.Filter = cfg.Filter()
	return sys
}

// switchMode connects and puts the printer into target mode
func switchMode(ctx context.Context, s *printer.Session, port string, target printer.Mode) error {
	if err := s.Connect(ctx, port); err != nil {
		return errors.New(s.GetStatus())
	}

	if s.GetMode() == target {
		fmt.Printf("Printer is already in %s mode\n", target)
	} else {
		var err error
		if target == printer.ModeFirmware {
			err = s.SwitchToFirmwareMode(ctx)
		} else {
			err = s.SwitchToBootloaderMode(ctx)
		}
		if err != nil {
			return errors.New(s.GetStatus())
		}
		fmt.Printf("Printer has been successfully switched into %s mode\n", target)
	}

	fmt.Printf("Current serial port: %s\n", s.GetCurrentSerialPort())
	return nil
}

// installFirmware flashes path and starts the new firmware
func installFirmware(ctx context.Context, s *printer.Session, path, port string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.New("Firmware ROM doesn't exist")
	}
	if _, err := firmware.ValidateName(path); err != nil {
		return errors.New("Invalid firmware ROM name")
	}

	if err := s.Connect(ctx, port); err != nil {
		return errors.New(s.GetStatus())
	}
	if err := s.InstallFirmware(ctx, path); err != nil {
		fmt.Println(err)
		return errors.New("Failed to update firmware")
	}

	if err := s.SwitchToFirmwareMode(ctx); err != nil {
		return errors.New(s.GetStatus())
	}

	fmt.Println("Firmware successfully installed")
	fmt.Printf("Current serial port: %s\n", s.GetCurrentSerialPort())
	return nil
}
