package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/falak/mailrelay/internal/config"
)

var (
	initOutput    string
	initDataDir   string
	initDriver    string
	initPrimary   string
	initSecondary string
	initSiteKey   string
	initACME      bool
	initACMEEmail string
	initHostname  string
	initForce     bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize relay configuration",
	Long: `Interactive wizard to create a relay configuration file.

Secrets for sessions and API key hashing are generated. The admin
site key is stored as a bcrypt hash and printed once.

Examples:
  # Interactive mode - prompts for missing values
  mailrelay init

  # Non-interactive
  mailrelay init --data-dir /var/lib/mailrelay --driver sqlite -o config.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/mailrelay", "Data directory for storage and certificates")
	initCmd.Flags().StringVar(&initDriver, "driver", "", "Storage driver: bolt, sqlite")
	initCmd.Flags().StringVar(&initPrimary, "primary", "", "Primary provider (default: notificationapi)")
	initCmd.Flags().StringVar(&initSecondary, "secondary", "", "Secondary provider (default: brevo)")
	initCmd.Flags().StringVar(&initSiteKey, "site-key", "", "Admin site key (auto-generated if not provided)")
	initCmd.Flags().BoolVar(&initACME, "acme", false, "Enable Let's Encrypt TLS")
	initCmd.Flags().StringVar(&initACMEEmail, "acme-email", "", "Email for Let's Encrypt account")
	initCmd.Flags().StringVar(&initHostname, "hostname", "", "Public hostname for the TLS certificate")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Mail Relay Configuration Wizard")
	fmt.Println("===============================")
	fmt.Println()

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	initDataDir = prompt(reader, "Data directory", initDataDir)

	if initDriver == "" {
		initDriver = prompt(reader, "Storage driver (bolt, sqlite)", "bolt")
	}
	if initPrimary == "" {
		initPrimary = prompt(reader, "Primary provider", "notificationapi")
	}
	if initSecondary == "" {
		initSecondary = prompt(reader, "Secondary provider", "brevo")
	}

	if !initACME {
		answer := prompt(reader, "Enable Let's Encrypt TLS? [y/N]", "n")
		initACME = strings.ToLower(answer) == "y" || strings.ToLower(answer) == "yes"
	}
	if initACME {
		if initHostname == "" {
			initHostname = prompt(reader, "Public hostname", "")
			if initHostname == "" {
				return fmt.Errorf("hostname is required for ACME")
			}
		}
		if initACMEEmail == "" {
			initACMEEmail = prompt(reader, "Email for Let's Encrypt", "admin@"+initHostname)
		}
	}

	generatedSiteKey := initSiteKey == ""
	if generatedSiteKey {
		initSiteKey = generateRandomString(24)
	}
	siteKeyHash, err := hashSiteKey(initSiteKey, bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	data := generateConfig(siteKeyHash, generateRandomString(64), generateRandomString(64))

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(filepath.Dir(initOutput), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// The file holds secrets
	if err := os.WriteFile(initOutput, []byte(data), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	if err := validateGenerated(initOutput); err != nil {
		fmt.Printf("  Warning: %v\n", err)
	}
	fmt.Println()

	printNextSteps(generatedSiteKey)
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig(siteKeyHash, sessionSecret, apiKeySecret string) string {
	acmeSection := ""
	if initACME {
		acmeSection = fmt.Sprintf(`  tls:
    acme:
      enabled: true
      email: "%s"
      domains:
        - "%s"
      cache_dir: "%s/certs"`, initACMEEmail, initHostname, initDataDir)
	} else {
		acmeSection = `  # Uncomment to enable Let's Encrypt
  # tls:
  #   acme:
  #     enabled: true
  #     email: "admin@example.com"
  #     domains:
  #       - "relay.example.com"
  #     cache_dir: "` + initDataDir + `/certs"`
	}

	ext := "db"
	if initDriver == "sqlite" {
		ext = "sqlite"
	}

	return fmt.Sprintf(`# Mail relay configuration
# Generated by: mailrelay init
#
# Provider credentials are read from the environment:
#   NOTIFICATIONAPI_CLIENT_ID, NOTIFICATIONAPI_CLIENT_SECRET,
#   BREVO_API_KEY, MAILGUN_API_KEY, MAILGUN_DOMAIN,
#   SMTP_RELAY_USERNAME, SMTP_RELAY_PASSWORD

api:
  listen_addr: ":8080"
  max_body_bytes: 1048576  # 1 MB
  read_timeout: 30s
  write_timeout: 90s
  idle_timeout: 60s
%s

auth:
  site_key_hash: "%s"
  session_secret: "%s"
  session_ttl: 24h
  api_key_secret: "%s"

providers:
  primary: "%s"
  secondary: "%s"
  backoff: 60s
  timeout: 30s
  default_from: "noreply@alerts.falak.me"
  default_sender_name: "Falak Mail Relay"

storage:
  driver: "%s"
  path: "%s/mailrelay.%s"
  retention:
    max_age: 720h  # 30 days
    cleanup_interval: 1h

logging:
  level: "info"
  format: "json"

metrics:
  enabled: false
  listen_addr: ":9090"
  allowed_ips:
    - "127.0.0.1"
`,
		acmeSection,
		siteKeyHash,
		sessionSecret,
		apiKeySecret,
		initPrimary,
		initSecondary,
		initDriver,
		initDataDir, ext,
	)
}

func printNextSteps(showSiteKey bool) {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Export provider credentials (or put them in an env file):")
	fmt.Println("   NOTIFICATIONAPI_CLIENT_ID, NOTIFICATIONAPI_CLIENT_SECRET, BREVO_API_KEY")
	fmt.Println()
	fmt.Println("2. Start the server:")
	fmt.Printf("   mailrelay serve -c %s --env-file .env\n", initOutput)
	fmt.Println()
	fmt.Println("3. Create an API key:")
	fmt.Printf("   mailrelay keys create -c %s --name default\n", initOutput)
	fmt.Println()
	fmt.Println("4. Test sending:")
	fmt.Println("   curl -X POST http://localhost:8080/relay/send \\")
	fmt.Println("     -H \"Authorization: Bearer fmr_...\" \\")
	fmt.Println("     -H \"Content-Type: application/json\" \\")
	fmt.Println("     -d '{\"to\": \"you@example.com\", \"subject\": \"Test\", \"text\": \"Hello!\"}'")
	fmt.Println()
	if showSiteKey {
		fmt.Println("Credentials")
		fmt.Println("-----------")
		fmt.Printf("Admin site key: %s\n", initSiteKey)
		fmt.Println()
	}
}

// validateGenerated loads a generated config file to catch template mistakes
func validateGenerated(path string) error {
	_, err := config.Load(path)
	return err
}
