package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ytsclub/sophbot/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runOnboard(resolveConfigPath()); err != nil {
				fmt.Fprintf(os.Stderr, "onboard: %v\n", err)
				os.Exit(1)
			}
		},
	}
}

func validateSnowflake(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return errors.New("must be a numeric Discord ID")
	}
	return nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

// runOnboard asks for the bot's settings, writes the config file without
// secrets and writes the secrets to .env.local next to it.
func runOnboard(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Default()
	}

	var (
		smtpPort = strconv.Itoa(cfg.Mail.SMTP.Port)
		smtpTo   = strings.Join(cfg.Mail.SMTP.To, ",")
		useIMAP  = cfg.Inbound.IMAP.IsConfigured()
	)
	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "maileroo"
	}

	discordGroup := huh.NewGroup(
		huh.NewInput().Title("Discord bot token").EchoMode(huh.EchoModePassword).
			Value(&cfg.Discord.Token).Validate(required("token")),
		huh.NewInput().Title("Guild ID").Description("Messages in this guild are mirrored to email").
			Value(&cfg.Discord.GuildID).Validate(validateSnowflake),
		huh.NewInput().Title("Fallback channel ID").Description("Used when a reply names no known channel").
			Value(&cfg.Discord.FallbackChannelID).Validate(validateSnowflake),
		huh.NewSelect[string]().Title("Outbound email provider").
			Options(huh.NewOption("Maileroo API", "maileroo"), huh.NewOption("SMTP relay", "smtp")).
			Value(&cfg.Mail.Provider),
	)

	mailerooGroup := huh.NewGroup(
		huh.NewInput().Title("Maileroo API key").EchoMode(huh.EchoModePassword).Value(&cfg.Mail.Maileroo.APIKey),
		huh.NewInput().Title("From address").Value(&cfg.Mail.Maileroo.FromEmail),
		huh.NewInput().Title("From name").Value(&cfg.Mail.Maileroo.FromName),
		huh.NewInput().Title("Notification recipient").Value(&cfg.Mail.Maileroo.ToEmail),
	).WithHideFunc(func() bool { return cfg.Mail.Provider != "maileroo" })

	smtpGroup := huh.NewGroup(
		huh.NewInput().Title("SMTP host").Value(&cfg.Mail.SMTP.Host),
		huh.NewInput().Title("SMTP port").Value(&smtpPort).Validate(func(s string) error {
			if _, err := strconv.Atoi(s); err != nil {
				return errors.New("must be a number")
			}
			return nil
		}),
		huh.NewInput().Title("SMTP username").Value(&cfg.Mail.SMTP.Username),
		huh.NewInput().Title("SMTP password").EchoMode(huh.EchoModePassword).Value(&cfg.Mail.SMTP.Password),
		huh.NewInput().Title("From address").Value(&cfg.Mail.SMTP.From),
		huh.NewInput().Title("Recipients").Description("Comma separated; carrier MMS gateways work too").Value(&smtpTo),
	).WithHideFunc(func() bool { return cfg.Mail.Provider != "smtp" })

	imapToggle := huh.NewGroup(
		huh.NewConfirm().Title("Poll an IMAP mailbox for replies?").Value(&useIMAP),
	)
	imapGroup := huh.NewGroup(
		huh.NewInput().Title("IMAP host").Value(&cfg.Inbound.IMAP.Host),
		huh.NewInput().Title("IMAP username").Value(&cfg.Inbound.IMAP.Username),
		huh.NewInput().Title("IMAP password").EchoMode(huh.EchoModePassword).Value(&cfg.Inbound.IMAP.Password),
	).WithHideFunc(func() bool { return !useIMAP })

	if err := huh.NewForm(discordGroup, mailerooGroup, smtpGroup, imapToggle, imapGroup).Run(); err != nil {
		return err
	}

	cfg.Mail.SMTP.Port, _ = strconv.Atoi(smtpPort)
	cfg.Mail.SMTP.To = config.FlexibleStringSlice(splitCSV(smtpTo))
	if !useIMAP {
		cfg.Inbound.IMAP.Host, cfg.Inbound.IMAP.Username, cfg.Inbound.IMAP.Password = "", "", ""
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return saveOnboarded(cfgPath, cfg)
}

func saveOnboarded(cfgPath string, cfg *config.Config) error {
	secrets := make(map[string]string)
	for k, v := range cfg.Secrets() {
		if v != "" {
			secrets[k] = v
		}
	}

	cfg.StripSecrets()
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Config saved to %s\n", cfgPath)

	envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
	if err := godotenv.Write(secrets, envPath); err != nil {
		return fmt.Errorf("write %s: %w", envPath, err)
	}
	if err := os.Chmod(envPath, 0600); err != nil {
		return fmt.Errorf("chmod %s: %w", envPath, err)
	}
	fmt.Printf("Secrets saved to %s\n", envPath)
	fmt.Println()
	fmt.Println("Start the bot with:  ./sophbot")
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
