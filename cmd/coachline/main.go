package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coachline/internal/app"
	"coachline/internal/config"
	"coachline/internal/credential"
	"coachline/internal/db"
	"coachline/internal/domain"
	"coachline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "coachline",
	Short: "Coachline CLI",
	Long: `Coachline relays chat turns to webhook-addressed AI coaching agents.
- Agents: reception (greeting/triage), data (collects your training data),
  routine (chains data into a generated workout routine).
- Workspace: a directory holding coachline.yml, the signing key, and the
  conversation database under .coachline/.
- Every outbound call carries a short-lived signed credential; slow or
  flaky agents are retried under a bounded policy, except routine
  generation which is allowed to run long.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("COACHLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "local-user", "user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(conversationCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default coachline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault("coachline")), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the Ed25519 credential signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := filepath.Join(workspace, ".coachline", "credential.pem")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			key, err := credential.Generate()
			if err != nil {
				return err
			}
			if err := credential.SaveKey(path, key); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing key")
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			minter, err := app.LoadMinter(workspace, cfg)
			if err != nil {
				return err
			}
			token, err := minter.Mint(viper.GetString("user"), server.APIAudience)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	var agentName, conversationID, name string
	cmd := &cobra.Command{
		Use:   "chat [text]",
		Short: "Send one message to an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				userID := viper.GetString("user")
				if _, err := app.ResolveProfile(ctx, a.Repo, userID, name); err != nil {
					return err
				}
				reply, err := a.Orchestrator.SendMessage(ctx, userID, args[0], conversationID, domain.AgentType(agentName))
				if err != nil {
					return err
				}
				fmt.Println(reply)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", string(domain.AgentReception), "agent: reception, data, or routine")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (defaults to latest)")
	cmd.Flags().StringVar(&name, "name", "", "display name for a new profile")
	return cmd
}

func conversationCmd() *cobra.Command {
	conv := &cobra.Command{Use: "conversation", Short: "Inspect conversations"}
	conv.AddCommand(conversationListCmd())
	conv.AddCommand(conversationShowCmd())
	return conv
}

func conversationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the user's conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListConversations(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Updated"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Title, c.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func conversationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Show a conversation's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				messages, err := a.Repo.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(messages)
				}
				for _, m := range messages {
					fmt.Printf("[%s] %s: %s\n", m.CreatedAt, m.Role, m.Content)
				}
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{
				Orchestrator: a.Orchestrator,
				Repo:         a.Repo,
				Minter:       a.Minter,
				BasePath:     basePath,
				Auth: server.AuthConfig{
					PublicKey:       a.Minter.Public(),
					Issuer:          a.Config.Credential.Issuer,
					AllowUserHeader: devAuth,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Coachline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devAuth, "dev-auth", false, "allow X-User-Id header auth and dev login")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
