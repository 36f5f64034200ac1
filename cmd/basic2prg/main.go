// Command basic2prg tokenizes BASIC V2 source into a program file and can
// optionally run the result on a device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
	"github.com/nesfrk81/ultimate64-sid-player/internal/logs"
	"github.com/nesfrk81/ultimate64-sid-player/internal/ultimate"
)

// Exit codes. exitData is sysexits' EX_DATAERR.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
	exitData  = 65
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		out      = flag.String("o", "", "output file (default: input with .prg, or stdout for stdin)")
		load     = flag.String("load", "$0801", "load address")
		list     = flag.Bool("list", false, "list an existing program file instead of tokenizing")
		start    = flag.Bool("run", false, "upload and run the program on the device")
		device   = flag.String("device", os.Getenv("DEVICE_URL"), "device base URL")
		password = flag.String("password", os.Getenv("DEVICE_PASSWORD"), "device password")
		level    = flag.String("log-level", "warn", "log level")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: basic2prg [flags] [file.bas]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logs.New(logs.Options{Level: *level, Writer: os.Stderr})

	in := flag.Arg(0)
	src, err := readInput(in)
	if err != nil {
		log.Error("read input", "error", err)
		return exitError
	}

	if *list {
		img, err := basic.Parse(src)
		if err != nil {
			log.Error("parse program", "error", err)
			return exitError
		}
		fmt.Print(basic.FormatSource(img.List(basic.NewTokenTable())))
		return exitOK
	}

	addr, err := parseAddress(*load)
	if err != nil {
		log.Error("bad load address", "value", *load, "error", err)
		return exitUsage
	}
	img, err := tokenize(src, addr)
	if err != nil {
		return failure(log, err)
	}
	prg := img.Bytes()

	dst := outputPath(in, *out)
	if dst == "" {
		os.Stdout.Write(prg)
	} else if err := os.WriteFile(dst, prg, 0o644); err != nil {
		log.Error("write program", "path", dst, "error", err)
		return exitError
	}
	log.Info("tokenized", "lines", len(img.Records), "bytes", len(prg), "end", fmt.Sprintf("$%04X", img.End()))

	if !*start {
		return exitOK
	}
	if *device == "" {
		log.Error("-run needs -device or DEVICE_URL")
		return exitUsage
	}
	c := ultimate.NewClient(*device, *password, 10*time.Second)
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.RunPRG(ctx, prg); err != nil {
		log.Error("run program", "device", *device, "error", err)
		return exitError
	}
	log.Info("program started", "device", *device)
	return exitOK
}

func tokenize(src []byte, load uint16) (*basic.Image, error) {
	lines, err := basic.ParseSource(strings.NewReader(string(src)))
	if err != nil {
		return nil, err
	}
	tok := basic.NewTokenizer(basic.NewTokenTable())
	tok.LoadAddress = load
	return tok.Tokenize(lines)
}

// outputPath picks the destination; "" means stdout.
func outputPath(in, out string) string {
	if out == "-" {
		return ""
	}
	if out != "" {
		return out
	}
	if in == "" || in == "-" {
		return ""
	}
	return strings.TrimSuffix(in, ".bas") + ".prg"
}

func readInput(name string) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

// parseAddress accepts decimal, 0x or $ notation.
func parseAddress(s string) (uint16, error) {
	if rest, ok := strings.CutPrefix(s, "$"); ok {
		s = "0x" + rest
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// failure reports a tokenize error and picks the exit code.
func failure(log *slog.Logger, err error) int {
	var fe *basic.FormatError
	if errors.As(err, &fe) {
		fmt.Fprintln(os.Stderr, fe.Error())
		return exitData
	}
	log.Error("tokenize", "error", err)
	return exitError
}
