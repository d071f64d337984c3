// Command hashpw prints a bcrypt hash for ADMIN_PASSWORD_HASH.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ideinstein/leadbridge/pkg/auth"
)

func main() {
	if err := newRootCmd(os.Stdin).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdin *os.File) *cobra.Command {
	var skipCheck bool

	cmd := &cobra.Command{
		Use:          "hashpw [password]",
		Short:        "Hash an admin password with bcrypt",
		Long:         "Prints a bcrypt hash for ADMIN_PASSWORD_HASH. Without an argument the password is read from the terminal, or from stdin when piped.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			switch {
			case len(args) == 1:
				password = args[0]
			case stdin != nil && term.IsTerminal(int(stdin.Fd())):
				p, err := promptTwice(cmd.ErrOrStderr(), int(stdin.Fd()))
				if err != nil {
					return err
				}
				password = p
			default:
				p, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}
			return hash(cmd.OutOrStdout(), password, skipCheck)
		},
	}
	cmd.Flags().BoolVar(&skipCheck, "skip-strength-check", false, "hash the password even if it is weak")
	return cmd
}

func hash(out io.Writer, password string, skipCheck bool) error {
	if password == "" {
		return errors.New("password is empty")
	}
	if !skipCheck {
		if err := auth.ValidatePasswordStrength(password); err != nil {
			return err
		}
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = fmt.Fprintln(out, hashed)
	return err
}

func promptTwice(prompt io.Writer, fd int) (string, error) {
	fmt.Fprint(prompt, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	fmt.Fprint(prompt, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
