package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

// Options configures the process logger
type Options struct {
	File       string // empty disables file output
	MaxSizeMB  int
	MaxAgeDays int
	Debug      bool
}

var (
	mu     sync.RWMutex
	logger = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	debug  bool
	closer io.Closer
)

// Init sets up stdout logging plus an optional rotating log file
func Init(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	var out io.Writer = os.Stdout
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  opts.MaxSizeMB, // megabytes
			MaxAge:   opts.MaxAgeDays,
		}
		closer = lj
		out = io.MultiWriter(os.Stdout, lj)
	}
	logger = log.New(out, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	debug = opts.Debug
}

// SetOutput redirects log output, mostly for tests
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
}

// Close flushes and closes the rotating file, if any
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

func write(color, level, category string, content []interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	message := fmt.Sprint(content...)
	logger.Printf("%s[%s][%s]%s: %s", color, level, category, ColorReset, message)
}

func Info(category string, content ...interface{}) {
	write(ColorGreen, "INFO", category, content)
}

func Error(category string, content ...interface{}) {
	write(ColorRed, "ERROR", category, content)
}

func Warn(category string, content ...interface{}) {
	write(ColorYellow, "WARN", category, content)
}

func Debug(category string, content ...interface{}) {
	mu.RLock()
	enabled := debug
	mu.RUnlock()
	if !enabled {
		return
	}
	write(ColorBlue, "DEBUG", category, content)
}
