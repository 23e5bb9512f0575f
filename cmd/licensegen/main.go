// Command licensegen is the operator-side provisioning tool. It mints
// license keys with the shared issuer secret and appends them to an
// append-only ledger file for record keeping.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"salepoint/internal/config"
	"salepoint/internal/license"
)

func main() {
	ledgerPath := flag.String("ledger", "issued-licenses.tsv", "append-only ledger file for issued keys")
	email := flag.String("email", "", "customer email (prompted when omitted)")
	devices := flag.Int("devices", 0, "device limit (prompted when omitted)")
	tier := flag.String("tier", "", "package tier: basic, professional, enterprise (prompted when omitted)")
	expiry := flag.String("expiry", "", "expiry date YYYY-MM-DD, empty for perpetual (prompted when omitted)")
	count := flag.Int("count", 1, "number of keys to generate")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal("load configuration: %v", err)
	}
	codec, err := license.NewKeyCodec(cfg.License.Secret)
	if err != nil {
		fatal("initialize codec: %v", err)
	}

	in := promptInput(*email, *devices, *tier, *expiry)

	ledger, err := os.OpenFile(*ledgerPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		fatal("open ledger file: %v", err)
	}
	defer ledger.Close()

	for i := 0; i < *count; i++ {
		key, record, err := codec.Generate(in)
		if err != nil {
			fatal("generate key: %v", err)
		}
		line := strings.Join([]string{
			record.IssuedAt.Format(time.RFC3339),
			record.LicenseID,
			key,
			record.CustomerEmail,
			string(record.PackageTier),
			strconv.Itoa(record.DeviceLimit),
			record.Expiry,
		}, "\t")
		if _, err := fmt.Fprintln(ledger, line); err != nil {
			fatal("append to ledger: %v", err)
		}
		fmt.Printf("%s\n", key)
	}
	fmt.Fprintf(os.Stderr, "%d key(s) appended to %s\n", *count, *ledgerPath)
}

// promptInput fills any missing fields interactively.
func promptInput(email string, devices int, tier, expiry string) license.GenerateInput {
	reader := bufio.NewReader(os.Stdin)

	if email == "" {
		email = prompt(reader, "Customer email: ")
	}
	if devices == 0 {
		raw := prompt(reader, "Device limit [1]: ")
		if raw == "" {
			devices = 1
		} else {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				fatal("device limit must be a positive integer, got %q", raw)
			}
			devices = n
		}
	}
	if tier == "" {
		tier = prompt(reader, "Package tier (basic/professional/enterprise) [professional]: ")
		if tier == "" {
			tier = string(license.TierProfessional)
		}
	}
	if expiry == "" {
		expiry = prompt(reader, "Expiry date YYYY-MM-DD (empty for perpetual): ")
	}

	return license.GenerateInput{
		CustomerEmail: email,
		DeviceLimit:   devices,
		PackageTier:   license.PackageTier(strings.ToLower(tier)),
		Expiry:        expiry,
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Fprint(os.Stderr, label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "licensegen: "+format+"\n", args...)
	os.Exit(1)
}
