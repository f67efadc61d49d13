package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"ironwill/pkg/agentsdk"
	"ironwill/pkg/contract"
)

// Testable variables for main()
var (
	osExit = os.Exit
	getenv = os.Getenv
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "validate":
		return validateRequest(args[1:], out)
	case "audit":
		return audit(args[1:], out)
	case "health":
		return health(args[1:], out)
	case "gen-secret":
		return genSecret(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "ironwillctl commands:")
	fmt.Fprintln(out, "  validate --request request.json")
	fmt.Fprintln(out, "  audit --url http://localhost:8081 --request request.json [--secret s] [--timeout 30s]")
	fmt.Fprintln(out, "  health --url http://localhost:8081")
	fmt.Fprintln(out, "  gen-secret [--bytes 32]")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func readRequest(path string) (contract.AuditRequest, error) {
	if path == "" {
		return contract.AuditRequest{}, errors.New("request required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return contract.AuditRequest{}, fmt.Errorf("read request: %w", err)
	}
	return contract.DecodeRequest(raw)
}

func validateRequest(args []string, out io.Writer) error {
	fs := newFlagSet("validate")
	reqPath := fs.String("request", "", "audit request json path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := readRequest(*reqPath)
	var ve *contract.ValidationError
	if errors.As(err, &ve) {
		for _, fe := range ve.Errors {
			fmt.Fprintf(out, "%s %s: %s (%s)\n", color.RedString("invalid"), fe.Path(), fe.Msg, fe.Type)
		}
		return fmt.Errorf("%d invalid field(s)", len(ve.Errors))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s request_id=%s target=%s (%s)\n", color.GreenString("valid"), req.RequestID, req.Criteria.Target, req.Criteria.Target.Kind())
	return nil
}

func audit(args []string, out io.Writer) error {
	fs := newFlagSet("audit")
	baseURL := fs.String("url", "http://localhost:8081", "agent base url")
	reqPath := fs.String("request", "", "audit request json path")
	secret := fs.String("secret", "", "shared secret (default $AGENT_INTERNAL_SECRET)")
	header := fs.String("header", "", "shared-secret header name")
	timeout := fs.Duration("timeout", agentsdk.DefaultTimeout, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := readRequest(*reqPath)
	if err != nil {
		return err
	}
	if *secret == "" {
		*secret = getenv("AGENT_INTERNAL_SECRET")
	}
	client := agentsdk.NewClient(*baseURL, *secret, *timeout)
	client.Header = *header
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	resp, err := client.Audit(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "verdict: %s\n", colorVerdict(resp.Verdict))
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func health(args []string, out io.Writer) error {
	fs := newFlagSet("health")
	baseURL := fs.String("url", "http://localhost:8081", "agent base url")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := agentsdk.NewClient(*baseURL, "", 5*time.Second).Health(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, color.GreenString("ok"))
	return nil
}

// genSecret prints a random value suitable for AGENT_INTERNAL_SECRET.
func genSecret(args []string, out io.Writer) error {
	fs := newFlagSet("gen-secret")
	n := fs.Int("bytes", 32, "random bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n < 16 {
		return errors.New("bytes must be at least 16")
	}
	buf := make([]byte, *n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	fmt.Fprintln(out, base64.RawURLEncoding.EncodeToString(buf))
	return nil
}

func colorVerdict(v string) string {
	switch strings.ToUpper(v) {
	case contract.VerdictPass:
		return color.GreenString(v)
	case contract.VerdictFail:
		return color.RedString(v)
	default:
		return color.YellowString(v)
	}
}
