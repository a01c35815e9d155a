package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"m3dmanager/gcode"
	"m3dmanager/host/console"
	"m3dmanager/host/printer"
	"m3dmanager/protocol"
)

const (
	protocolRepetier = "Repetier"
	protocolRepRap   = "RepRap"
)

var errPrinterDisconnected = errors.New("printer disconnected")

// manualMode relays typed commands to the printer and prints responses
func manualMode(ctx context.Context, s *printer.Session, proto, port string) error {
	if proto != protocolRepetier && proto != protocolRepRap {
		return fmt.Errorf("invalid protocol %q, expected %s or %s", proto, protocolRepetier, protocolRepRap)
	}

	if err := s.Connect(ctx, port); err != nil {
		return errors.New(s.GetStatus())
	}
	if err := s.SwitchToFirmwareMode(ctx); err != nil {
		return errors.New(s.GetStatus())
	}

	prompt := liner.NewLiner()
	defer prompt.Close()
	prompt.SetCtrlCAborts(true)

	meta := metaCommands(ctx, s)
	prompt.SetCompleter(func(line string) (c []string) {
		if !console.IsMeta(line) {
			return nil
		}
		for _, name := range meta.Names() {
			if strings.HasPrefix(console.Prefix+name, line) {
				c = append(c, console.Prefix+name)
			}
		}
		return
	})

	fmt.Println("Enter 'quit' to exit, ':help' for more commands")
	for {
		input, err := prompt.Prompt("Enter command: ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		prompt.AppendHistory(input)

		if input == "quit" {
			return nil
		}

		if console.IsMeta(input) {
			if err := meta.Dispatch(input); err != nil {
				fmt.Println(err)
			}
			fmt.Println()
			continue
		}

		if err := relay(ctx, s, proto, input); err != nil {
			return err
		}
		fmt.Println()
	}
}

// relay sends one command and prints responses until a terminal one
func relay(ctx context.Context, s *printer.Session, proto, input string) error {
	line := gcode.Normalize(input)
	if line == "" {
		return nil
	}

	if !gcode.AwaitsResponse(line) {
		// The printer reboots instead of answering, follow it
		fmt.Printf("Send: %s\n", line)
		var err error
		if line == protocol.StartFirmwareCommand {
			err = s.SwitchToFirmwareMode(ctx)
		} else {
			err = s.SwitchToBootloaderMode(ctx)
		}
		if err != nil {
			return errors.New(s.GetStatus())
		}
		fmt.Printf("Printer is in %s mode on %s\n", s.GetMode(), s.GetCurrentSerialPort())
		return nil
	}

	var err error
	if proto == protocolRepetier {
		err = s.SendRequestBinary(line)
	} else {
		err = s.SendRequestASCII(line)
	}
	if err != nil {
		if !s.IsConnected() {
			return errPrinterDisconnected
		}
		fmt.Printf("Sending command failed: %v\n", err)
		return nil
	}
	fmt.Printf("Send: %s\n", line)

	for {
		resp, err := s.ReceiveResponse(ctx)
		if errors.Is(err, protocol.ErrTimeout) {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !s.IsConnected() {
			return errPrinterDisconnected
		}

		if resp.Kind != protocol.KindWait && resp.Line != "" {
			fmt.Printf("Receive: %s\n", resp.Line)
		}
		if err != nil {
			if !errors.Is(err, protocol.ErrDevice) {
				fmt.Println(err)
			}
			return nil
		}
		if resp.Kind.Terminal() {
			return nil
		}
	}
}

// metaCommands builds the colon commands available at the prompt
func metaCommands(ctx context.Context, s *printer.Session) *console.Registry {
	r := console.NewRegistry()

	r.Register("help", "", "Show this help message", func(args []string) error {
		fmt.Println("Available commands:")
		r.PrintHelp(os.Stdout)
		fmt.Printf("  %-22s - %s\n", "quit", "Exit manual mode")
		fmt.Println("Anything else is sent to the printer as G-code")
		return nil
	})

	r.Register("port", "", "Show the current serial port", func(args []string) error {
		fmt.Printf("Current serial port: %s\n", s.GetCurrentSerialPort())
		return nil
	})

	r.Register("mode", "", "Show the printer mode and status", func(args []string) error {
		fmt.Printf("Mode: %s\nStatus: %s\n", s.GetMode(), s.GetStatus())
		return nil
	})

	r.Register("install", "<file>", "Install a firmware ROM and restart the firmware", func(args []string) error {
		if err := console.Expect(args, 1, `:install "<file>"`); err != nil {
			return err
		}
		if err := s.InstallFirmware(ctx, args[0]); err != nil {
			return err
		}
		if err := s.SwitchToFirmwareMode(ctx); err != nil {
			return err
		}
		fmt.Println("Firmware successfully installed")
		fmt.Printf("Current serial port: %s\n", s.GetCurrentSerialPort())
		return nil
	})

	r.Register("firmware", "", "Switch the printer into firmware mode", func(args []string) error {
		if err := s.SwitchToFirmwareMode(ctx); err != nil {
			return err
		}
		fmt.Printf("Current serial port: %s\n", s.GetCurrentSerialPort())
		return nil
	})

	r.Register("bootloader", "", "Switch the printer into bootloader mode", func(args []string) error {
		if err := s.SwitchToBootloaderMode(ctx); err != nil {
			return err
		}
		fmt.Printf("Current serial port: %s\n", s.GetCurrentSerialPort())
		return nil
	})

	return r
}
