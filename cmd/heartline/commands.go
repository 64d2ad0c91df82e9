package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xonecas/heartline/internal/config"
	"github.com/xonecas/heartline/internal/core"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/store"
)

func init() {
	send := &cobra.Command{
		Use:   "send <contact> <text...>",
		Short: "Send a message and print the reply",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runSend,
	}
	send.Flags().StringP("mode", "m", "default", "Session mode: default, call, offline")

	summarize := &cobra.Command{
		Use:   "summarize <contact>",
		Short: "Compact the last day of a contact's memories now",
		Args:  cobra.ExactArgs(1),
		RunE:  runSummarize,
	}

	importLegacy := &cobra.Command{
		Use:   "import-legacy <export.json>",
		Short: "Import a legacy browser export into an empty store",
		Args:  cobra.ExactArgs(1),
		RunE:  runImportLegacy,
	}

	contacts := &cobra.Command{
		Use:   "contacts",
		Short: "List contacts",
		Args:  cobra.NoArgs,
		RunE:  runContacts,
	}

	rootCmd.AddCommand(send, summarize, importLegacy, contacts)
}

func parseMode(s string) (protocol.Mode, error) {
	switch strings.ToLower(s) {
	case "", "default", "online":
		return protocol.ModeDefault, nil
	case "call":
		return protocol.ModeCall, nil
	case "offline":
		return protocol.ModeOffline, nil
	}
	return protocol.ModeDefault, fmt.Errorf("unknown mode %q", s)
}

// findContact matches by id first, then by case-insensitive name.
func findContact(s *store.Store, ref string) (store.Contact, error) {
	if c, ok := s.Contact(store.ID(ref)); ok {
		return c, nil
	}
	for _, c := range s.Contacts() {
		if strings.EqualFold(c.Name, ref) {
			return c, nil
		}
	}
	return store.Contact{}, fmt.Errorf("%w: %s", core.ErrUnknownContact, ref)
}

func runSend(cmd *cobra.Command, args []string) error {
	modeFlag, _ := cmd.Flags().GetString("mode")
	mode, err := parseMode(modeFlag)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	contact, err := findContact(a.store, args[0])
	if err != nil {
		return err
	}
	sess := core.Session{ContactID: contact.ID, Mode: mode}

	events := a.bus.SubscribeContact(contact.ID)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			printEvent(contact.Name, ev)
		}
	}()
	// stop printing once every delivery has landed
	defer func() {
		a.bus.Unsubscribe(events)
		<-printed
	}()

	if err := a.engine.Send(ctx, sess, strings.Join(args[1:], " "), ""); err != nil {
		return err
	}
	// offline sends answer on their own
	if mode != protocol.ModeOffline {
		if err := a.engine.Respond(ctx, sess); err != nil {
			return err
		}
	}
	a.engine.Wait()
	return nil
}

func printEvent(name string, ev core.Event) {
	switch ev.Type {
	case core.EventMessageAppended:
		if data, ok := ev.Data.(core.MessageData); ok && data.Message.Role != store.RoleUser {
			printMessage(name, data.Message)
		}
	case core.EventMessageRetracted:
		fmt.Printf("%s retracted a message\n", name)
	case core.EventStorageError:
		if data, ok := ev.Data.(core.ErrorData); ok {
			fmt.Fprintf(os.Stderr, "warning: storage write failed: %s\n", data.Error)
		}
	}
}

func printMessage(name string, msg store.Message) {
	switch {
	case msg.Retracted:
		fmt.Printf("%s: (message retracted)\n", name)
	case msg.Type == store.TypeSticker:
		fmt.Printf("%s: [sticker] %s\n", name, msg.StickerDesc)
	case msg.Role == store.RoleSystem:
		fmt.Printf("* %s\n", msg.Content)
	default:
		fmt.Printf("%s: %s\n", name, msg.Content)
	}
	if msg.Thought != "" {
		fmt.Printf("  (thinking: %s)\n", msg.Thought)
	}
}

func runSummarize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	contact, err := findContact(a.store, args[0])
	if err != nil {
		return err
	}
	res, err := a.engine.SummarizeNow(ctx, contact.ID)
	if err != nil {
		return fmt.Errorf("summarize %s: %w", contact.Name, err)
	}
	if res.Skipped {
		fmt.Printf("Nothing to summarize for %s.\n", contact.Name)
		return nil
	}
	fmt.Printf("Summarized %s: %d entries consumed, %d promoted to important.\n", contact.Name, res.Consumed, res.Promoted)
	return nil
}

func runImportLegacy(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("legacy export: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Store.LegacyImport = args[0]

	s, err := store.New(cmd.Context(), cfg.Store, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	if err := s.ImportError(); err != nil {
		return fmt.Errorf("import legacy: %w", err)
	}
	keys := s.Imported()
	if len(keys) == 0 {
		fmt.Println("Store already has data; nothing imported.")
		return nil
	}
	fmt.Printf("Imported %d containers: %s\n", len(keys), strings.Join(keys, ", "))
	return nil
}

func runContacts(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := store.New(cmd.Context(), cfg.Store, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	couple := s.Couple()
	for _, c := range s.Contacts() {
		marker := " "
		if couple.PartneredWith(c.ID) {
			marker = "♥"
		}
		fmt.Printf("%s %-20s %s\n", marker, c.ID, c.Name)
	}
	return nil
}
