package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"rack-go/internal/rack"
)

// PassphraseEnv supplies the private key passphrase non-interactively.
const PassphraseEnv = "RACK_PASSPHRASE"

const progressWidth = 30

// readPassphrase returns $RACK_PASSPHRASE when set, otherwise prompts on
// the terminal with echo disabled.
func readPassphrase(prompt string) (string, error) {
	if p, ok := os.LookupEnv(PassphraseEnv); ok {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: no terminal available for passphrase prompt (set %s)", rack.ErrConfig, PassphraseEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// readNewPassphrase asks for a passphrase twice and requires both to match.
func readNewPassphrase() (string, error) {
	if p, ok := os.LookupEnv(PassphraseEnv); ok {
		return p, nil
	}

	first, err := readPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	second, err := readPassphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("%w: passphrases do not match", rack.ErrConfig)
	}
	return first, nil
}

// confirm prints prompt and reports whether the answer starts with y.
func confirm(prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}

// newProgress returns a progress bar drawn on stderr, or nil when stderr
// is not a terminal.
func newProgress() rack.ProgressFunc {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return func(stage string, done, total int) {
		filled := progressWidth
		if total > 0 {
			filled = min(progressWidth*done/total, progressWidth)
		}
		bar := strings.Repeat("#", filled) + strings.Repeat("-", progressWidth-filled)
		fmt.Fprintf(os.Stderr, "\r%-12s |%s| %d/%d", stage, bar, done, total)
		if done >= total {
			fmt.Fprintln(os.Stderr)
		}
	}
}
