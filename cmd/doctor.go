package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ytsclub/sophbot/internal/config"
	"github.com/ytsclub/sophbot/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and credentials",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(offline)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the Discord token check")
	return cmd
}

func runDoctor(offline bool) {
	fmt.Println("sophbot doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	config.LoadDotEnv(".env", ".env.local")

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Check", "Status", "Detail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	defer table.Render()

	if _, err := os.Stat(cfgPath); err != nil {
		table.Append([]string{"Config", "defaults", cfgPath + " not found, using defaults and env"})
	} else {
		table.Append([]string{"Config", "ok", cfgPath})
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		table.Append([]string{"Config load", "FAILED", err.Error()})
		return
	}

	table.Append([]string{"Config hash", "ok", cfg.Hash()})
	for _, row := range doctorRows(cfg) {
		table.Append(row)
	}

	if cfg.IsBotEnabled() && !offline {
		table.Append(checkDiscordToken(cfg.Discord.Token))
	}
}

// doctorRows reports each feature gate without contacting any service.
func doctorRows(cfg *config.Config) [][]string {
	masked := cfg.MaskedCopy()
	rows := [][]string{
		gateRow("Discord bot", cfg.IsBotEnabled(), "token "+masked.Discord.Token, "no token: set token or SOPHBOT_DISCORD_TOKEN"),
		gateRow("Email to Discord", cfg.IsForwardingEnabled(), "guild "+cfg.Discord.GuildID, "no guild id: set DISCORD_GUILD_ID"),
	}

	mail := cfg.Mail
	provider := mail.Provider
	if provider == "" {
		provider = "maileroo"
	}
	var mailDetail string
	switch provider {
	case "smtp":
		mailDetail = fmt.Sprintf("smtp %s:%d → %s", mail.SMTP.Host, mail.SMTP.Port, strings.Join(mail.SMTP.To, ", "))
	default:
		mailDetail = fmt.Sprintf("maileroo %s → %s", mail.Maileroo.FromEmail, mail.Maileroo.ToEmail)
	}
	rows = append(rows, gateRow("Discord to email", mail.IsConfigured(), mailDetail, provider+" credentials incomplete"))

	imapCfg := cfg.Inbound.IMAP
	rows = append(rows, gateRow("IMAP poller", imapCfg.IsConfigured(),
		fmt.Sprintf("%s@%s/%s every %ds", imapCfg.Username, imapCfg.Host, imapCfg.Mailbox, imapCfg.PollSeconds),
		"not configured"))

	webhook := "POST " + protocol.RouteEmailWebhook
	if cfg.Inbound.Webhook.Disabled {
		webhook += " (forwarding disabled)"
	}
	rows = append(rows,
		[]string{"HTTP", "ok", fmt.Sprintf("%s:%d, %s", cfg.Gateway.Host, cfg.Gateway.Port, webhook)},
		gateRow("Tracing", cfg.Telemetry.Enabled, cfg.Telemetry.Protocol+" "+cfg.Telemetry.Endpoint, "disabled"),
		[]string{"Operators", "ok", strings.Join(cfg.Discord.OperatorIDs, ", ")},
	)
	return rows
}

func gateRow(name string, ok bool, detail, missing string) []string {
	if ok {
		return []string{name, "enabled", detail}
	}
	return []string{name, "disabled", missing}
}

func checkDiscordToken(token string) []string {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return []string{"Discord token", "FAILED", err.Error()}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u, err := session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return []string{"Discord token", "FAILED", err.Error()}
	}
	return []string{"Discord token", "ok", fmt.Sprintf("logged in as %s (%s)", u.Username, u.ID)}
}
