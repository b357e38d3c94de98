// Command authctl is an operator tool for authcore deployments.
//
//	authctl hash-password [-memory KiB] [-time N] [-parallelism N]
//	authctl check-hash <encoded>
//
// hash-password prompts without echo when stdin is a terminal and otherwise
// reads one line from stdin. The encoded argon2id hash is printed to stdout.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MrEthical07/authcore/password"
	"golang.org/x/term"
)

// readPassword is swapped out in tests.
var readPassword = term.ReadPassword

var isTerminal = term.IsTerminal

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "hash-password":
		err = hashPassword(args[1:], stdin, stdout, stderr)
	case "check-hash":
		err = checkHash(args[1:], stdout)
	case "-h", "--help", "help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "authctl: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: authctl <hash-password|check-hash> [flags]")
}

func hashPassword(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	def := password.DefaultConfig()
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	fs.SetOutput(stderr)
	memory := fs.Uint("memory", uint(def.Memory), "argon2id memory in KiB")
	iterations := fs.Uint("time", uint(def.Time), "argon2id iterations")
	parallelism := fs.Uint("parallelism", uint(def.Parallelism), "argon2id parallelism")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := def
	cfg.Memory = uint32(*memory)
	cfg.Time = uint32(*iterations)
	cfg.Parallelism = uint8(*parallelism)
	hasher, err := password.NewHasher(cfg)
	if err != nil {
		return err
	}

	secret, err := readSecret(stdin, stderr)
	if err != nil {
		return err
	}

	encoded, err := hasher.Hash(secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, encoded)
	return err
}

func readSecret(stdin io.Reader, prompt io.Writer) (string, error) {
	if f, ok := stdin.(*os.File); ok && isTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func checkHash(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("check-hash takes exactly one encoded hash")
	}
	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		return err
	}
	stale, err := hasher.NeedsRehash(args[0])
	if err != nil {
		return err
	}
	if stale {
		_, err = fmt.Fprintln(stdout, "rehash: parameters differ from current defaults")
		return err
	}
	_, err = fmt.Fprintln(stdout, "ok")
	return err
}
