package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// printStatus reports resource usage for the running agent process.
func printStatus(w io.Writer) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
		return
	}

	fmt.Fprintf(w, "pid: %d\n", p.Pid)

	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		fmt.Fprintf(w, "rss: %.1f MiB\n", float64(mem.RSS)/(1024*1024))
	}
	if pct, err := p.CPUPercent(); err == nil {
		fmt.Fprintf(w, "cpu: %.1f%%\n", pct)
	}
	if created, err := p.CreateTime(); err == nil {
		up := time.Since(time.UnixMilli(created)).Round(time.Second)
		fmt.Fprintf(w, "uptime: %s\n", up)
	}
	if threads, err := p.NumThreads(); err == nil {
		fmt.Fprintf(w, "threads: %d\n", threads)
	}
}
