package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joshyim/lightrag-gemini/pkg/gemini"
	"github.com/joshyim/lightrag-gemini/pkg/message"
	"github.com/joshyim/lightrag-gemini/pkg/params"
)

// callFlags are the flags shared by complete and embed.
type callFlags struct {
	model  string
	params []string
}

func (f *callFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.model, "model", "", "model name (default from config)")
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "provider parameter as name=value, value parsed as YAML (repeatable)")
}

func newCompleteCmd(a *app) *cobra.Command {
	var (
		flags        callFlags
		temperature  float32
		maxTokens    int
		messagesFile string
	)

	cmd := &cobra.Command{
		Use:   "complete [prompt]",
		Short: "Generate text for a prompt or a conversation file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := buildConversation(args, messagesFile)
			if err != nil {
				return err
			}
			bag, err := parseParams(flags.params)
			if err != nil {
				return err
			}

			client, err := gemini.New(a.cfg.Client(), gemini.WithLogger(a.logger))
			if err != nil {
				return err
			}

			req := gemini.CompletionRequest{
				Conversation: conv,
				Model:        flags.model,
				MaxTokens:    maxTokens,
				Params:       bag,
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = gemini.Temperature(temperature)
			}

			text, err := client.Complete(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().Float32Var(&temperature, "temperature", gemini.DefaultTemperature, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum output tokens (0 for the model limit)")
	cmd.Flags().StringVar(&messagesFile, "messages", "", "YAML file with a list of {role, content} messages")
	return cmd
}

func newEmbedCmd(a *app) *cobra.Command {
	var flags callFlags

	cmd := &cobra.Command{
		Use:   "embed <text>",
		Short: "Print the embedding vector of a text as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bag, err := parseParams(flags.params)
			if err != nil {
				return err
			}

			client, err := gemini.New(a.cfg.Client(), gemini.WithLogger(a.logger))
			if err != nil {
				return err
			}

			vec, err := client.Embed(cmd.Context(), gemini.EmbeddingRequest{
				Text:   args[0],
				Model:  flags.model,
				Params: bag,
			})
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(vec)
		},
	}
	flags.register(cmd)
	return cmd
}

// buildConversation takes either a prompt argument or a messages file.
func buildConversation(args []string, messagesFile string) (message.Conversation, error) {
	switch {
	case messagesFile != "" && len(args) > 0:
		return message.Conversation{}, fmt.Errorf("pass either a prompt or --messages, not both")
	case messagesFile != "":
		msgs, err := loadMessages(messagesFile)
		if err != nil {
			return message.Conversation{}, err
		}
		return message.Messages(msgs...), nil
	case len(args) == 1:
		return message.Prompt(args[0]), nil
	default:
		return message.Conversation{}, fmt.Errorf("a prompt or --messages is required")
	}
}

func loadMessages(path string) ([]message.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	var msgs []message.Message
	if err := yaml.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse messages %s: %w", path, err)
	}
	for i, m := range msgs {
		if m.Role == "" {
			return nil, fmt.Errorf("parse messages %s: message %d has no role", path, i)
		}
	}
	return msgs, nil
}

// parseParams turns name=value pairs into a parameter bag. Values are YAML
// scalars or collections, so 40 is a number and [STOP] a list.
func parseParams(pairs []string) (params.Bag, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	bag := make(params.Bag, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q: want name=value", p)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid --param %q: %w", p, err)
		}
		bag[name] = v
	}
	return bag, nil
}
