package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rexliu/dappd/pkg/config"
	"github.com/rexliu/dappd/pkg/rpc"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	commands := map[string]func([]string) error{
		"diag":     diagCommand,
		"ping":     pingCommand,
		"methods":  methodsCommand,
		"call":     callCommand,
		"balance":  balanceCommand,
		"transact": transactCommand,
		"put":      putCommand,
		"get":      getCommand,
		"watch":    watchCommand,
	}
	switch name := os.Args[1]; name {
	case "init":
		initProfile()
	case "version":
		fmt.Printf("dapp CLI %s\n", version)
	default:
		cmd, ok := commands[name]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", name)
			usage()
			os.Exit(1)
		}
		if err := cmd(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "%s error: %v\n", name, err)
			os.Exit(1)
		}
	}
}

func usage() {
	fmt.Println("Usage: dapp <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init      Initialize a local profile (writes config.toml)")
	fmt.Println("  diag      Print profile configuration paths")
	fmt.Println("  ping      Call the daemon ping endpoint")
	fmt.Println("  methods   List registered methods")
	fmt.Println("  call      Call any method with a JSON params payload")
	fmt.Println("  balance   Print the balance of an address")
	fmt.Println("  transact  Submit a transaction (create, transfer or message)")
	fmt.Println("  put       Store a file in the content store and print its hash")
	fmt.Println("  get       Fetch a file from the content store by hash")
	fmt.Println("  watch     Stream accountChanged events for addresses")
	fmt.Println("  version   Print CLI version")
}

func initProfile() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	profilePath := fs.String("profile", "./_dev_profile", "Profile directory")
	name := fs.String("name", "dev", "Profile name")
	force := fs.Bool("force", false, "Overwrite existing config if present")
	_ = fs.Parse(os.Args[2:])
	if err := os.MkdirAll(*profilePath, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "init error: %v\n", err)
		os.Exit(1)
	}
	configPath := filepath.Join(*profilePath, config.FileName)
	if _, err := os.Stat(configPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "config already exists at %s (use --force to overwrite)\n", configPath)
		os.Exit(1)
	}
	cfg := config.DefaultProfile(*name)
	if err := config.Save(configPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "init error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("initialized profile %s at %s\n", cfg.ProfileName, *profilePath)
}

func diagCommand(args []string) error {
	fs := flag.NewFlagSet("diag", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	_ = fs.Parse(args)
	cfg, err := config.LoadProfile(*profile)
	if err != nil {
		return err
	}
	fmt.Printf("Profile: %s\n", cfg.ProfileName)
	fmt.Printf("Config: %s\n", filepath.Join(*profile, config.FileName))
	fmt.Printf("Chain DB: %s\n", config.ResolvePath(*profile, cfg.Ledger.DBPath))
	fmt.Printf("Content DB: %s\n", config.ResolvePath(*profile, cfg.Content.DBPath))
	fmt.Printf("Socket: %s\n", config.ResolvePath(*profile, cfg.Server.SocketPath))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("WebSocket: ws://%s%s\n", cfg.Server.ListenAddr, cfg.Server.WebSocketPath)
	}
	fmt.Printf("Sender: %s\n", cfg.Ledger.Sender)
	if cfg.Dapp.RootContract != "" {
		fmt.Printf("Root Contract: %s\n", cfg.Dapp.RootContract)
	}
	if cfg.Document.Command != "" {
		fmt.Printf("Document Command: %s %s\n", cfg.Document.Command, strings.Join(cfg.Document.Args, " "))
	}
	if cfg.Logging.FilePath != "" {
		fmt.Printf("Log File: %s\n", config.ResolvePath(*profile, cfg.Logging.FilePath))
	}
	return nil
}

// connFlags registers the flags shared by every command that talks to the daemon.
func connFlags(fs *flag.FlagSet) (profile, socket *string, timeout *time.Duration) {
	profile = fs.String("profile", "./_dev_profile", "Profile directory")
	socket = fs.String("socket", "", "Override socket path")
	timeout = fs.Duration("timeout", 30*time.Second, "Call timeout")
	return
}

func call(profile, socket string, timeout time.Duration, method string, params, out any) error {
	socketPath, err := resolveSocketPath(profile, socket)
	if err != nil {
		return err
	}
	client, err := rpc.Dial(socketPath)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return client.Call(ctx, method, params, out)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func pingCommand(args []string) error {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	profile, socket, timeout := connFlags(fs)
	_ = fs.Parse(args)

	var data struct {
		Now int64 `json:"Now"`
	}
	if err := call(*profile, *socket, *timeout, "ping", nil, &data); err != nil {
		return err
	}
	fmt.Printf("daemon responded: now=%d\n", data.Now)
	return nil
}

func methodsCommand(args []string) error {
	fs := flag.NewFlagSet("methods", flag.ExitOnError)
	profile, socket, timeout := connFlags(fs)
	_ = fs.Parse(args)

	var methods []string
	if err := call(*profile, *socket, *timeout, "rpc.methods", nil, &methods); err != nil {
		return err
	}
	for _, m := range methods {
		fmt.Println(m)
	}
	return nil
}

func callCommand(args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	profile, socket, timeout := connFlags(fs)
	method := fs.String("method", "", "Method name")
	inline := fs.String("params", "", "Inline JSON params")
	stdin := fs.Bool("stdin", false, "Read JSON params from stdin")
	_ = fs.Parse(args)
	if *method == "" {
		return fmt.Errorf("--method is required")
	}

	var payload []byte
	switch {
	case *inline != "":
		payload = []byte(*inline)
	case *stdin:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		payload = data
	}
	var params any
	if trimmed := strings.TrimSpace(string(payload)); trimmed != "" {
		if !json.Valid([]byte(trimmed)) {
			return fmt.Errorf("params are not valid JSON")
		}
		params = json.RawMessage(trimmed)
	}
	var result json.RawMessage
	if err := call(*profile, *socket, *timeout, *method, params, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func balanceCommand(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	profile, socket, timeout := connFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dapp balance [options] <address>")
	}
	var balance string
	if err := call(*profile, *socket, *timeout, "balanceAt", map[string]string{"Address": fs.Arg(0)}, &balance); err != nil {
		return err
	}
	fmt.Println(balance)
	return nil
}

func transactCommand(args []string) error {
	fs := flag.NewFlagSet("transact", flag.ExitOnError)
	profile, socket, timeout := connFlags(fs)
	to := fs.String("to", "", "Recipient address (empty deploys -data as a contract)")
	value := fs.String("value", "", "Value to transfer")
	gas := fs.String("gas", "", "Gas limit")
	gasPrice := fs.String("gas-price", "", "Gas price")
	data := fs.String("data", "", "Contract source or newline separated message arguments")
	dataFile := fs.String("data-file", "", "Read -data from a file")
	_ = fs.Parse(args)

	payload := *data
	if *dataFile != "" {
		raw, err := os.ReadFile(*dataFile)
		if err != nil {
			return err
		}
		payload = string(raw)
	}
	var result json.RawMessage
	err := call(*profile, *socket, *timeout, "transact", map[string]string{
		"Recipient": *to,
		"Value":     *value,
		"Gas":       *gas,
		"GasPrice":  *gasPrice,
		"Data":      payload,
	}, &result)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func putCommand(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	profile, socket, timeout := connFlags(fs)
	filePath := fs.String("file", "", "File to store (defaults to stdin)")
	_ = fs.Parse(args)

	var data []byte
	var err error
	if *filePath != "" {
		data, err = os.ReadFile(*filePath)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}
	var hash string
	params := map[string]any{"Data": base64.StdEncoding.EncodeToString(data), "Base64": true}
	if err := call(*profile, *socket, *timeout, "writeFile", params, &hash); err != nil {
		return err
	}
	if hash == "" {
		return fmt.Errorf("daemon could not store the file")
	}
	fmt.Println(hash)
	return nil
}

func getCommand(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	profile, socket, timeout := connFlags(fs)
	outPath := fs.String("out", "", "Write content to file (defaults to stdout)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dapp get [options] <hash>")
	}
	var encoded string
	params := map[string]any{"Hash": fs.Arg(0), "Base64": true}
	if err := call(*profile, *socket, *timeout, "readFile", params, &encoded); err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode content: %w", err)
	}
	if *outPath != "" {
		return os.WriteFile(*outPath, data, 0o600)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func watchCommand(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	profile, socket, timeout := connFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: dapp watch [options] <address>...")
	}

	socketPath, err := resolveSocketPath(*profile, *socket)
	if err != nil {
		return err
	}
	client, err := rpc.Dial(socketPath)
	if err != nil {
		return err
	}
	defer client.Close()
	client.OnNotify(func(event string, params json.RawMessage) {
		fmt.Printf("%s %s %s\n", time.Now().Format(time.RFC3339), event, string(params))
	})

	for _, addr := range fs.Args() {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		err := client.Call(ctx, "watchAccount", map[string]string{"Address": addr}, nil)
		cancel()
		if err != nil {
			return fmt.Errorf("watch %s: %w", addr, err)
		}
	}
	fmt.Printf("Watching %d account(s) (Ctrl+C to exit)\n", fs.NArg())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := client.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func resolveSocketPath(profile, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := config.LoadProfile(profile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config not found in %s (run 'dapp init --profile %s')", profile, profile)
		}
		return "", fmt.Errorf("load config: %w", err)
	}
	return config.ResolvePath(profile, cfg.Server.SocketPath), nil
}
