package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// minSiteKeyLength is the shortest site key accepted by hash-site-key
const minSiteKeyLength = 10

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Admin authentication helpers",
}

var authHashSiteKeyCmd = &cobra.Command{
	Use:   "hash-site-key",
	Short: "Print a bcrypt hash for auth.site_key_hash",
	Long: `Read an admin site key and print its bcrypt hash.

On a terminal the key is prompted for twice without echo.
Otherwise the first line of stdin is used.`,
	RunE: runAuthHashSiteKey,
}

var authSecretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Print a random secret for auth.session_secret or auth.api_key_secret",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(generateRandomString(64))
	},
}

func init() {
	authCmd.AddCommand(authHashSiteKeyCmd, authSecretCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthHashSiteKey(cmd *cobra.Command, args []string) error {
	var (
		key string
		err error
	)
	if term.IsTerminal(int(syscall.Stdin)) {
		key, err = promptSiteKey()
	} else {
		key, err = readSiteKey(os.Stdin)
	}
	if err != nil {
		return err
	}

	hash, err := hashSiteKey(key, bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	fmt.Println(hash)
	return nil
}

func promptSiteKey() (string, error) {
	fmt.Fprint(os.Stderr, "Enter site key: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read site key: %w", err)
	}
	fmt.Fprintln(os.Stderr)

	fmt.Fprint(os.Stderr, "Confirm site key: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read site key: %w", err)
	}
	fmt.Fprintln(os.Stderr)

	if string(first) != string(second) {
		return "", fmt.Errorf("site keys do not match")
	}
	return string(first), nil
}

func readSiteKey(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read site key: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func hashSiteKey(key string, cost int) (string, error) {
	if len(key) < minSiteKeyLength {
		return "", fmt.Errorf("site key must be at least %d characters", minSiteKeyLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash site key: %w", err)
	}
	return string(hash), nil
}
