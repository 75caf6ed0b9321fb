package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rojolang/voiceloop-sdk-go/pkg/voiceloop"
	"github.com/spf13/cobra"
)

var (
	verbose  bool
	baseURL  string
	account  string
	password string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "voiceloop",
		Short: "VoiceLoop assistant CLI",
		Long:  "A command-line client for the VoiceLoop conversational assistant",
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Backend base URL")
	rootCmd.PersistentFlags().StringVar(&account, "account", "", "Account name for login")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "Password for login")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(liveCmd())
	rootCmd.AddCommand(conversationsCmd())
	rootCmd.AddCommand(vocabCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(devicesCmd())

	if err := rootCmd.Execute(); err != nil {
		voiceloop.GetGlobalLogger().WithError(err).Fatal("CLI execution failed")
	}
}

type clientBundle struct {
	config   *voiceloop.Config
	api      *voiceloop.APIClient
	recorder *voiceloop.Recorder
	player   *voiceloop.SpeechPlayer
	store    *voiceloop.ConversationStore
	orch     *voiceloop.TurnOrchestrator
}

func buildClient() (*clientBundle, error) {
	_ = godotenv.Load()

	config := voiceloop.NewConfig()
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if issues := config.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(issues, "; "))
	}

	session := voiceloop.NewSessionManager()
	api := voiceloop.NewAPIClient(config, session)

	if err := establishSession(api, session); err != nil {
		return nil, err
	}

	audioConfig := voiceloop.NewAudioConfig()
	audioConfig.DeviceID = config.AudioDeviceID

	recorder := voiceloop.NewRecorder(audioConfig, voiceloop.NewPortAudioCapture())
	player := voiceloop.NewSpeechPlayer(voiceloop.NewPortAudioPlayback())
	store := voiceloop.NewConversationStore(api)

	orch := voiceloop.NewTurnOrchestrator(api, recorder, player, store)
	orch.SetRestartDelay(config.RestartDelay)
	orch.AddStateHandler(voiceloop.CreateStateLoggingHandler(verbose))
	orch.AddErrorHandler(voiceloop.CreateErrorLoggingHandler("Turn"))
	store.AddMessageHandler(voiceloop.CreateTranscriptPrinter())

	return &clientBundle{
		config:   config,
		api:      api,
		recorder: recorder,
		player:   player,
		store:    store,
		orch:     orch,
	}, nil
}

func establishSession(api *voiceloop.APIClient, session *voiceloop.SessionManager) error {
	if token := os.Getenv("VOICELOOP_TOKEN"); token != "" {
		session.SetSession(token, nil)
		if res := api.Verify(); res.Success {
			return nil
		}
		session.Clear()
	}

	acc := account
	if acc == "" {
		acc = os.Getenv("VOICELOOP_ACCOUNT")
	}
	pass := password
	if pass == "" {
		pass = os.Getenv("VOICELOOP_PASSWORD")
	}
	if acc == "" || pass == "" {
		return fmt.Errorf("no session: set VOICELOOP_TOKEN or VOICELOOP_ACCOUNT/VOICELOOP_PASSWORD")
	}

	res := api.Login(acc, pass)
	if !res.Success {
		return fmt.Errorf("login failed: %s", res.Error.Message)
	}
	if res.Data.User != nil {
		fmt.Printf("Logged in as %s\n", res.Data.User.FullName)
	}
	return nil
}

// selectConversation picks the newest conversation or creates one, the way
// the chat screen does on load.
func selectConversation(b *clientBundle, mode string) error {
	if err := b.store.Load(); err != nil {
		return fmt.Errorf("loading conversations: %s", err.Message)
	}

	convs := b.store.Conversations()
	if len(convs) == 0 {
		if _, err := b.store.CreateNew(mode); err != nil {
			return fmt.Errorf("creating conversation: %s", err.Message)
		}
		return nil
	}

	if err := b.store.Select(convs[0].ConversationID); err != nil {
		return fmt.Errorf("selecting conversation: %s", err.Message)
	}
	return nil
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive manual-mode chat",
		Long: "Type to talk to the assistant. Commands: /rec toggles recording " +
			"(the transcript fills the input line), /send confirms a pending transcript, " +
			"/play speaks the last reply, /quit exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := buildClient()
			if err != nil {
				return err
			}
			if err := selectConversation(b, "text"); err != nil {
				return err
			}

			fmt.Printf("Conversation #%d. Type a message, or /rec, /send, /play, /quit\n",
				b.store.Current().ConversationID)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				if pending := b.store.PendingInput(); pending != "" {
					fmt.Printf("[pending] %s\n", pending)
				}
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())

				switch {
				case line == "/quit":
					return nil
				case line == "/rec":
					handleManualRecording(b)
				case line == "/send":
					if err := b.orch.SendPendingInput(); err != nil {
						fmt.Printf("Send failed: %s\n", err.Message)
						acknowledgeIfNeeded(b)
					}
				case line == "/play":
					if turn := b.store.LastTurn(); turn != nil {
						if err := b.orch.PlayReply(turn.ReplyID); err != nil {
							fmt.Printf("Playback failed: %s\n", err.Message)
						}
					} else {
						fmt.Println("Nothing to play yet")
					}
				case line == "":
					// Ignore blank lines.
				default:
					if err := b.orch.SendText(line); err != nil {
						fmt.Printf("Send failed: %s\n", err.Message)
						acknowledgeIfNeeded(b)
					}
				}
			}
		},
	}
	return cmd
}

func handleManualRecording(b *clientBundle) {
	if b.orch.State() == voiceloop.TurnRecording {
		if err := b.orch.StopRecording(); err != nil {
			fmt.Printf("Recording failed: %s\n", err.Message)
			acknowledgeIfNeeded(b)
			return
		}
		return
	}

	if err := b.orch.StartRecording(); err != nil {
		fmt.Printf("Could not start recording: %s\n", err.Message)
		acknowledgeIfNeeded(b)
		return
	}
	fmt.Println("Recording... type /rec again to stop")
}

func acknowledgeIfNeeded(b *clientBundle) {
	if b.orch.State() == voiceloop.TurnError {
		b.orch.Acknowledge()
	}
}

func liveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Autonomous voice-mode conversation",
		Long: "Starts the unattended voice loop: speak, pause, hear the reply, " +
			"speak again. Captures end automatically on silence. Ctrl-C leaves " +
			"the loop at the next safe point.",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := buildClient()
			if err != nil {
				return err
			}
			if err := selectConversation(b, "continuous"); err != nil {
				return err
			}

			// The silence detector runs on the capture data path, so it
			// only signals; the loop below drives the state machine.
			utteranceDone := make(chan struct{}, 1)
			unsubscribe := b.recorder.AddFragmentHandler(voiceloop.CreateSilenceDetector(
				float32(b.config.SilenceThreshold),
				b.config.SilenceDuration,
				func() {
					select {
					case utteranceDone <- struct{}{}:
					default:
					}
				},
			))
			defer unsubscribe()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

			fmt.Printf("Voice mode on (conversation #%d). Speak when ready; Ctrl-C to stop.\n",
				b.store.Current().ConversationID)

			if err := b.orch.EnableVoiceMode(); err != nil {
				return fmt.Errorf("starting voice mode: %s", err.Message)
			}

			for {
				select {
				case <-utteranceDone:
					// Runs the full turn and re-enters Recording unless the
					// flag was cleared or the turn failed.
					if err := b.orch.StopRecording(); err != nil {
						fmt.Printf("Turn failed: %s\n", err.Message)
					}
					if b.orch.State() != voiceloop.TurnRecording {
						return nil
					}
				case <-interrupt:
					fmt.Println("\nLeaving voice mode...")
					b.orch.DisableVoiceMode()
					if b.orch.State() == voiceloop.TurnRecording {
						// Completes the in-flight turn; with the flag down it
						// ends in Idle with the transcript left pending.
						b.orch.StopRecording()
					}
					return nil
				}
			}
		},
	}
	return cmd
}

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := buildClient()
			if err != nil {
				return err
			}
			if err := b.store.Load(); err != nil {
				return fmt.Errorf("loading conversations: %s", err.Message)
			}

			convs := b.store.Conversations()
			if len(convs) == 0 {
				fmt.Println("No conversations yet")
				return nil
			}
			for _, c := range convs {
				fmt.Printf("  #%d  %s  (%s)\n", c.ConversationID, c.Datetime, c.Mode)
			}
			return nil
		},
	}
	return cmd
}

func vocabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab [word]",
		Short: "Look up a word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := buildClient()
			if err != nil {
				return err
			}

			res := b.api.LookupWord(args[0])
			if !res.Success {
				return fmt.Errorf("lookup failed: %s", res.Error.Message)
			}

			fmt.Printf("%s  %s\n%s\n", res.Data.Word, res.Data.Pronunciation, res.Data.Meaning)
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()

			config := voiceloop.NewConfig()
			if baseURL != "" {
				config.BaseURL = baseURL
			}
			config.PrintConfig()

			if issues := config.Validate(); len(issues) > 0 {
				fmt.Println("\nIssues:")
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
			}

			audioConfig := voiceloop.NewAudioConfig()
			fmt.Println("\nAudio Config:")
			fmt.Printf("  Sample Rate: %d Hz\n", audioConfig.SampleRate)
			fmt.Printf("  Channels: %d\n", audioConfig.Channels)
			fmt.Printf("  Buffer Size: %d samples\n", audioConfig.BufferSize)
		},
	}
	return cmd
}

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := voiceloop.ListInputDevices()
			if err != nil {
				return fmt.Errorf("listing devices: %s", err.Message)
			}

			if len(names) == 0 {
				fmt.Println("No capture devices found")
				return nil
			}
			fmt.Println("Capture devices:")
			for i, name := range names {
				fmt.Printf("  %d: %s\n", i, name)
			}
			return nil
		},
	}
	return cmd
}
