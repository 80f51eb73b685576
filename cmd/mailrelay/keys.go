package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/falak/mailrelay/internal/apikey"
	"github.com/falak/mailrelay/internal/app"
	"github.com/falak/mailrelay/internal/storage"
)

var (
	keysName       string
	keysActiveOnly bool
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "API key management commands",
	Long: `Manage relay API keys directly in storage.

The bolt backend holds an exclusive lock, so stop the server first
or use the admin API when it is running.`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runKeysList,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate <id>",
	Short: "Replace the secret of an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRotate,
}

var keysToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Activate or deactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysToggle,
}

var keysRenameCmd = &cobra.Command{
	Use:   "rename <id>",
	Short: "Rename an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRename,
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysDelete,
}

func init() {
	keysCreateCmd.Flags().StringVar(&keysName, "name", "", "Key name (required)")
	keysCreateCmd.MarkFlagRequired("name")

	keysRenameCmd.Flags().StringVar(&keysName, "name", "", "New key name (required)")
	keysRenameCmd.MarkFlagRequired("name")

	keysListCmd.Flags().BoolVar(&keysActiveOnly, "active", false, "Show only active keys")

	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysRotateCmd, keysToggleCmd, keysRenameCmd, keysDeleteCmd)
	rootCmd.AddCommand(keysCmd)
}

// openKeyService opens storage and returns a key service over it
func openKeyService() (*apikey.Service, storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := app.OpenStore(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	logger := app.SetupLogger(cfg.Logging).With("component", "cli")
	return apikey.NewService(store, apikey.NewHasher(cfg.Auth.APIKeySecret), logger), store, nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	svc, store, err := openKeyService()
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := svc.Create(context.Background(), keysName)
	if err != nil {
		return err
	}

	printNewKey("API key created", result)
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	svc, store, err := openKeyService()
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := svc.List(context.Background(), keysActiveOnly)
	if err != nil {
		return fmt.Errorf("failed to list API keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPREFIX\tACTIVE\tUSAGE\tLAST USED\tCREATED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsed != nil {
			lastUsed = k.LastUsed.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%s\t%s\n",
			k.ID, k.Name, k.KeyPrefix, k.IsActive, k.UsageCount, lastUsed, k.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()

	return nil
}

func runKeysRotate(cmd *cobra.Command, args []string) error {
	svc, store, err := openKeyService()
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := svc.Rotate(context.Background(), args[0])
	if err != nil {
		return err
	}

	printNewKey("API key rotated", result)
	return nil
}

func runKeysToggle(cmd *cobra.Command, args []string) error {
	svc, store, err := openKeyService()
	if err != nil {
		return err
	}
	defer store.Close()

	active, err := svc.Toggle(context.Background(), args[0])
	if err != nil {
		return err
	}

	state := "inactive"
	if active {
		state = "active"
	}
	fmt.Printf("API key %s is now %s\n", args[0], state)
	return nil
}

func runKeysRename(cmd *cobra.Command, args []string) error {
	svc, store, err := openKeyService()
	if err != nil {
		return err
	}
	defer store.Close()

	key, err := svc.Rename(context.Background(), args[0], keysName)
	if err != nil {
		return err
	}

	fmt.Printf("API key %s renamed to %q\n", key.ID, key.Name)
	return nil
}

func runKeysDelete(cmd *cobra.Command, args []string) error {
	svc, store, err := openKeyService()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := svc.Delete(context.Background(), args[0]); err != nil {
		return err
	}

	fmt.Printf("API key %s deleted\n", args[0])
	return nil
}

func printNewKey(title string, result *apikey.CreateResult) {
	fmt.Printf("%s\n\n", title)
	fmt.Printf("  ID:   %s\n", result.ID)
	fmt.Printf("  Name: %s\n", result.Name)
	fmt.Printf("  Key:  %s\n\n", result.Key)
	fmt.Println("Store the key now. It cannot be shown again.")
}
