// Package spinning shows a spinner while a long operation (like compiling a model) runs, and handles
// interruptions (Ctrl+C) gracefully.
package spinning

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"
	"k8s.io/klog/v2"
)

// Spinning is a running spinner, see New.
type Spinning struct {
	wg     sync.WaitGroup
	cancel func()
	start  time.Time
}

var (
	ThemeAscii = []rune("|/-\\")
	ThemeMoon  = []rune("🌑🌒🌓🌔🌕🌖🌗🌘")
	ThemeClock = []rune("🕐🕑🕒🕓🕔🕕🕖🕗🕘🕙🕚🕛")

	// Theme defaults to ThemeClock, but it can be set to anything else.
	Theme = ThemeClock

	// Output where the spinner is drawn.
	Output io.Writer = os.Stdout
)

// SafeInterrupt will capture SigInt (Ctrl+C) and SigTerm and call the provided onInterrupt.
// If the program hasn't exited after gracePeriod, it resets the terminal and exits.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		fmt.Println()
		klog.Errorf("Got interrupted (signal %q), shutting down... (%s)", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}

		// Wait for gracePeriod before exiting.
		time.Sleep(gracePeriod)
		Reset()
		klog.Fatalf("Graceful shutting down %s period expired, exiting.", gracePeriod)
	}()
}

// Reset terminal: make cursor visible, restore default terminal colors.
func Reset() {
	fmt.Print("\033[?25h\033[39;49;0m\n") // Restore cursor and colors.
}

// IsTerminal returns whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// New prints msg and starts a spinner after it, on a separate goroutine, until Spinning.Done is called.
// If stdout is not a terminal, only msg is logged.
func New(ctx context.Context, msg string) *Spinning {
	s := &Spinning{start: time.Now()}
	if !IsTerminal() {
		klog.Info(msg)
		return s
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		_, _ = fmt.Fprint(Output, "\033[?25l")                    // Hide cursor.
		defer func() { _, _ = fmt.Fprint(Output, "\033[?25h") }() // Restore cursor.

		_, _ = fmt.Fprintf(Output, "%s  ", msg)
		var idx int
		for {
			_, _ = fmt.Fprintf(Output, "\b\b%c ", Theme[idx])
			idx = (idx + 1) % len(Theme)
			select {
			case <-ctx.Done():
				_, _ = fmt.Fprint(Output, "\b\b\n")
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

// Done stops the spinner and returns the time elapsed since New.
func (s *Spinning) Done() time.Duration {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
	return time.Since(s.start)
}
