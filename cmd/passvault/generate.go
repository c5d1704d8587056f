// Package main provides the passvault CLI commands.
package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// Character classes.
const (
	charsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	charsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsetDigits    = "0123456789"
	charsetSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// Generator limits.
const (
	minPasswordLength     = 8
	maxPasswordLength     = 256
	defaultPasswordLength = 24
	maxPasswordCount      = 100
	maxExcludeLength      = 256
)

var errEmptyCharset = errors.New("character set is empty: adjust flags to include at least one character type")

// genOptions selects the character classes of generated passwords.
type genOptions struct {
	noLower, noUpper, noDigits, noSymbols bool
	exclude                               string
}

// classes returns the enabled character classes with excluded characters
// removed. Classes left empty by the exclusion are dropped.
func (o genOptions) classes() ([]string, error) {
	if len(o.exclude) > maxExcludeLength {
		return nil, fmt.Errorf("exclude string must be at most %d characters", maxExcludeLength)
	}
	var out []string
	for _, c := range []struct {
		off bool
		set string
	}{
		{o.noLower, charsetLowercase},
		{o.noUpper, charsetUppercase},
		{o.noDigits, charsetDigits},
		{o.noSymbols, charsetSymbols},
	} {
		if c.off {
			continue
		}
		if set := removeChars(c.set, o.exclude); set != "" {
			out = append(out, set)
		}
	}
	if len(out) == 0 {
		return nil, errEmptyCharset
	}
	return out, nil
}

var (
	generateLength int
	generateCount  int
	generateCopy   bool
	generateOpts   genOptions
)

func init() {
	rootCmd.AddCommand(generateCmd)

	f := generateCmd.Flags()
	f.IntVarP(&generateLength, "length", "l", defaultPasswordLength, "Password length (8-256)")
	f.IntVarP(&generateCount, "count", "n", 1, "Number of passwords to generate (1-100)")
	f.BoolVar(&generateOpts.noSymbols, "no-symbols", false, "Exclude symbols")
	f.BoolVar(&generateOpts.noDigits, "no-numbers", false, "Exclude numbers")
	f.BoolVar(&generateOpts.noUpper, "no-uppercase", false, "Exclude uppercase letters")
	f.BoolVar(&generateOpts.noLower, "no-lowercase", false, "Exclude lowercase letters")
	f.StringVar(&generateOpts.exclude, "exclude", "", "Characters to exclude")
	f.BoolVarP(&generateCopy, "copy", "c", false, "Copy the first password to the clipboard and clear it after the configured delay")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate secure random passwords",
	Long: `Generate random passwords from crypto/rand. Every enabled character class
appears at least once in each password.

Examples:
  passvault generate
  passvault generate -l 32 --no-symbols
  passvault generate -n 5
  passvault generate -c
  passvault generate --exclude "0O1lI"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkGenerateRange(generateLength, generateCount); err != nil {
			return err
		}
		classes, err := generateOpts.classes()
		if err != nil {
			return err
		}

		passwords := make([]string, 0, generateCount)
		for i := 0; i < generateCount; i++ {
			pw, err := generateFromClasses(classes, generateLength)
			if err != nil {
				return err
			}
			passwords = append(passwords, pw)
			fmt.Println(pw)
		}

		if generateCopy {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := copyAndWait(ctx, passwords[0], "password"); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
		return nil
	},
}

func checkGenerateRange(length, count int) error {
	if length < minPasswordLength || length > maxPasswordLength {
		return fmt.Errorf("password length must be between %d and %d", minPasswordLength, maxPasswordLength)
	}
	if count < 1 || count > maxPasswordCount {
		return fmt.Errorf("count must be between 1 and %d", maxPasswordCount)
	}
	return nil
}

// removeChars drops every rune of chars from s.
func removeChars(s, chars string) string {
	if chars == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(chars, r) {
			return -1
		}
		return r
	}, s)
}

// generatePassword draws length characters uniformly from charset.
func generatePassword(charset string, length int) (string, error) {
	pw := make([]byte, length)
	for i := range pw {
		c, err := randomChar(charset)
		if err != nil {
			return "", err
		}
		pw[i] = c
	}
	return string(pw), nil
}

// generateFromClasses draws from the union of classes and places one
// character of each class at a random position. length must be at least
// len(classes).
func generateFromClasses(classes []string, length int) (string, error) {
	if length < len(classes) {
		return "", fmt.Errorf("length %d is too short for %d character classes", length, len(classes))
	}
	pw, err := generatePassword(strings.Join(classes, ""), length)
	if err != nil {
		return "", err
	}
	out := []byte(pw)

	positions, err := randomPerm(length)
	if err != nil {
		return "", err
	}
	for i, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out[positions[i]] = c
	}
	return string(out), nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random number: %w", err)
	}
	return int(v.Int64()), nil
}

func randomChar(set string) (byte, error) {
	i, err := randomInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

// randomPerm is a Fisher-Yates shuffle of 0..n-1.
func randomPerm(n int) ([]int, error) {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return nil, err
		}
		p[i], p[j] = p[j], p[i]
	}
	return p, nil
}

// randomPassword generates a password using every character class.
func randomPassword(length int) (string, error) {
	return generateFromClasses([]string{charsetLowercase, charsetUppercase, charsetDigits, charsetSymbols}, length)
}
