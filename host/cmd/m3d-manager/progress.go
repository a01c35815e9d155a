package main

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"

	"m3dmanager/host/printer"
)

// progressReporter renders installation progress on the terminal
type progressReporter struct {
	bar *progressbar.ProgressBar
}

func (r *progressReporter) update(p printer.Progress) {
	switch p.Stage {
	case printer.StageValidate:
		fmt.Println("Firmware ROM is valid")
	case printer.StageConnect:
		fmt.Println("Printer is in bootloader mode")
	case printer.StageTransfer:
		if r.bar == nil || p.Chunk <= 1 {
			r.bar = progressbar.NewOptions(p.TotalChunks,
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Writing"),
				progressbar.OptionShowCount(),
				progressbar.OptionOnCompletion(func() { fmt.Println() }),
			)
		}
		r.bar.Set(p.Chunk)
	case printer.StageComplete:
		if r.bar != nil {
			r.bar.Finish()
			r.bar = nil
		}
		fmt.Printf("Wrote %d bytes in %v\n", p.BytesWritten, p.Elapsed.Round(time.Millisecond))
	}
}
