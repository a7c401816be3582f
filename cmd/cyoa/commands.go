package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/glo0ml34f/cyoa/internal/config"
	"github.com/glo0ml34f/cyoa/internal/cyoa"
	"github.com/glo0ml34f/cyoa/internal/input"
	"github.com/glo0ml34f/cyoa/internal/instruct"
	"github.com/glo0ml34f/cyoa/internal/logging"
	"github.com/glo0ml34f/cyoa/internal/openai"
	"github.com/glo0ml34f/cyoa/internal/plugin"
	"github.com/glo0ml34f/cyoa/internal/prompt"
	"github.com/glo0ml34f/cyoa/internal/repl"
	"github.com/glo0ml34f/cyoa/internal/session"
	"github.com/glo0ml34f/cyoa/internal/suggest"
)

type rootOptions struct {
	configPath string
	pluginDir  string
	verbose    bool
}

// settings loads the config file and the logger every subcommand shares.
func (o *rootOptions) settings(cmd *cobra.Command) (config.Settings, *logrus.Logger, error) {
	log := logging.New(cmd.ErrOrStderr(), o.verbose)
	path := o.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	s, err := config.Load(path)
	if err != nil {
		return s, log, err
	}
	if o.pluginDir != "" {
		s.PluginDir = o.pluginDir
	}
	log.WithFields(logrus.Fields{"config": path, "api": s.API, "style": s.Style}).Debug("settings loaded")
	return s, log, nil
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	var encrypt bool
	cmd := &cobra.Command{
		Use:   "cyoa [chat-file]",
		Short: "Choose-your-own-adventure suggestions for LLM roleplay",
		Long: `cyoa is an interactive story loop. Type to play; !cyoa asks the model for
next-beat suggestions and !pick turns one into your next message.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd, args, o, encrypt)
		},
	}
	cmd.PersistentFlags().StringVar(&o.configPath, "config", "", "config file (default ~/.cyoa/config.yaml)")
	cmd.PersistentFlags().StringVar(&o.pluginDir, "plugins", "", "plugins directory")
	cmd.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "ask for a passphrase and encrypt saved chats")

	cmd.AddCommand(
		newParseCmd(),
		newRenderCmd(),
		newNormalizeCmd(o),
		newVersionCmd(),
	)
	return cmd
}

func runREPL(cmd *cobra.Command, args []string, o *rootOptions, encrypt bool) error {
	s, log, err := o.settings(cmd)
	if err != nil {
		return err
	}
	plugin.SetLogger(log)
	mgr := plugin.GetManager()
	if s.PluginDir != "" {
		mgr.SetDir(s.PluginDir)
	}

	client, err := openai.NewClient()
	if err != nil {
		return err
	}
	openai.SetModelName(s.Model)

	formatter, err := formatterFor(s, mgr)
	if err != nil {
		return err
	}
	engine, err := cyoa.New(s, client, formatter, mgr, log)
	if err != nil {
		return err
	}

	var chat *session.Chat
	var chatPath, pass string
	if len(args) == 1 {
		chatPath = args[0]
		if _, err := os.Stat(chatPath); err == nil {
			if session.IsSealed(chatPath) {
				if pass, err = input.ReadPasswordPrompt("passphrase: "); err != nil {
					return err
				}
			}
			if chat, err = session.Load(chatPath, pass); err != nil {
				return err
			}
		}
	}
	if encrypt && pass == "" {
		if pass, err = input.ReadPasswordPrompt("new passphrase: "); err != nil {
			return err
		}
	}
	if chat == nil {
		chat = session.New(s.User, s.Character)
	}

	r := repl.New(repl.Config{
		Engine:     engine,
		Generator:  client,
		Plugins:    mgr,
		Chat:       chat,
		ChatPath:   chatPath,
		Passphrase: pass,
		Log:        log,
	})
	if err := mgr.LoadAll(); err != nil {
		log.WithError(err).Warn("plugins not loaded")
	}
	defer mgr.Shutdown()
	return r.Run(cmd.Context())
}

// loadPlugins loads the configured plugins into the global manager.
func loadPlugins(s config.Settings, log *logrus.Logger) (*plugin.Manager, error) {
	plugin.SetLogger(log)
	mgr := plugin.GetManager()
	if s.PluginDir != "" {
		mgr.SetDir(s.PluginDir)
	}
	if err := mgr.LoadAll(); err != nil {
		return nil, err
	}
	return mgr, nil
}

// formatterFor returns the instruct formatter the REPL and the normalize
// command share: a plugin formatter when one is loaded, else the preset.
// Raw style needs none.
func formatterFor(s config.Settings, mgr *plugin.Manager) (prompt.Formatter, error) {
	if s.Style != prompt.StyleInstruct {
		return nil, nil
	}
	fallback, err := s.Formatter()
	if err != nil {
		return nil, err
	}
	return mgr.Formatter(fallback), nil
}

func readAll(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	return string(b), err
}

func newParseCmd() *cobra.Command {
	var matchers []string
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Extract suggestions from a model reply on stdin, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			s := suggest.Parse(raw)
			if len(matchers) > 0 {
				s = suggest.ParseWith(raw, matchers...)
			}
			if len(s) == 0 {
				return suggest.ErrNoSuggestions
			}
			for _, t := range suggest.Texts(s) {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&matchers, "match", nil, "matchers to use, in priority order ("+strings.Join(suggest.Matchers(), ",")+")")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var format string
	var width int
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Parse a model reply on stdin and print it as option markup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			s := suggest.Parse(raw)
			if len(s) == 0 {
				return suggest.ErrNoSuggestions
			}
			out := cmd.OutOrStdout()
			switch format {
			case "html":
				fmt.Fprintln(out, suggest.Render(s))
			case "tags":
				fmt.Fprint(out, suggest.Stringify(s))
			case "markdown":
				fmt.Fprint(out, suggest.Markdown(s))
			case "terminal":
				text, err := suggest.Terminal(s, width, suggest.StyleFor(out))
				if err != nil {
					return err
				}
				fmt.Fprint(out, text)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "html", "html, tags, markdown or terminal")
	cmd.Flags().IntVar(&width, "width", 80, "word wrap for terminal output")
	return cmd
}

func newNormalizeCmd(o *rootOptions) *cobra.Command {
	var chatPath, position, role, style, preset, text string
	var depth int
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Print the text-completion prompt built from a chat file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatPath == "" {
				return errors.New("--chat is required")
			}
			s, log, err := o.settings(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("position") {
				s.Position = position
			}
			if flags.Changed("depth") {
				s.Depth = prompt.Depth(depth)
			}
			if flags.Changed("role") {
				s.Role = role
			}
			if flags.Changed("style") {
				if err := s.Style.UnmarshalText([]byte(style)); err != nil {
					return err
				}
			}
			if flags.Changed("preset") {
				s.Preset = preset
			}
			if flags.Changed("text") {
				s.LLMPrompt = text
			}
			if err := s.Validate(); err != nil {
				return err
			}

			var pass string
			if session.IsSealed(chatPath) {
				if pass, err = input.ReadPasswordPrompt("passphrase: "); err != nil {
					return err
				}
			}
			chat, err := session.Load(chatPath, pass)
			if err != nil {
				return err
			}
			instr, err := s.Instruction()
			if err != nil {
				return err
			}
			mgr, err := loadPlugins(s, log)
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			macros := mgr.Macros()
			macros["suggestionNumber"] = fmt.Sprint(s.NumResponses)
			opts := prompt.Options{
				Style:            s.Style,
				Names:            prompt.Names{User: chat.User, Char: chat.Character},
				Macros:           macros,
				CollapseNewlines: s.CollapseNewlines,
				NoAssistantName:  s.NoAssistantName,
			}
			if opts.Formatter, err = formatterFor(s, mgr); err != nil {
				return err
			}
			out, err := prompt.Normalize(chat.Turns(), instr, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&chatPath, "chat", "", "chat file written by the REPL")
	f.StringVar(&position, "position", "suffix", "prefix, suffix or in-depth")
	f.IntVar(&depth, "depth", 0, "turns from the end for in-depth")
	f.StringVar(&role, "role", "system", "system, user or character")
	f.StringVar(&style, "style", "raw", "raw or instruct")
	f.StringVar(&preset, "preset", "chatml", "instruct preset ("+strings.Join(instruct.Presets(), ",")+")")
	f.StringVar(&text, "text", "", "instruction text (default from config)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
