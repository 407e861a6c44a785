package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oraraka-deko/redraft/internal/profile"
	"github.com/oraraka-deko/redraft/patch"
	"github.com/oraraka-deko/redraft/redraft"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the assistant once against a local file",
	Example: `  redraftd run --file notes.md --instructions "make it shorter" --write
  redraftd run --instructions "write a haiku about rain"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := profile.Load(viper.GetViper())
		if err != nil {
			return err
		}
		p.Addr = ""
		if err := p.Validate(); err != nil {
			return err
		}
		log, err := p.Logger()
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		file, _ := flags.GetString("file")
		instructions, _ := flags.GetString("instructions")
		mode, _ := flags.GetString("mode")
		tier, _ := flags.GetString("tier")
		user, _ := flags.GetString("user")
		write, _ := flags.GetBool("write")
		searchOn, _ := flags.GetBool("search")

		var text string
		if file != "" {
			b, err := os.ReadFile(file)
			if err != nil && !os.IsNotExist(err) {
				return err
			}
			text = string(b)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, p, log, false)
		if err != nil {
			return err
		}
		defer a.Close()

		docID := file
		if docID == "" {
			docID = "scratch"
		}
		req := redraft.Request{
			CurrentText:      text,
			Instructions:     instructions,
			DocumentID:       docID,
			UserID:           user,
			ModelChoice:      tier,
			ActionMode:       redraft.ActionMode(mode),
			WebSearchEnabled: searchOn,
		}
		if a.db != nil {
			if req.History, err = a.db.History(ctx, docID, 20); err != nil {
				return err
			}
		}

		resp, err := a.orch.Run(ctx, req)
		if err != nil {
			return err
		}
		changes, err := printEvents(cmd.OutOrStdout(), resp.Events)
		<-resp.Done
		if err != nil {
			return err
		}

		if changes == nil || changes.Len() == 0 {
			return nil
		}
		updated, unapplied := patch.Apply(text, changes)
		for _, o := range unapplied {
			fmt.Fprintf(cmd.ErrOrStderr(), "not applied: %q\n", o)
		}
		if write && file != "" {
			return os.WriteFile(file, []byte(updated), 0o644)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n--- updated text ---\n%s\n", updated)
		return nil
	},
}

// printEvents writes narration as it streams and returns the final change
// map. An error event becomes the returned error.
func printEvents(w io.Writer, events <-chan redraft.Event) (*patch.ChangeMap, error) {
	var changes *patch.ChangeMap
	var runErr error
	for ev := range events {
		switch p := ev.Payload.(type) {
		case redraft.StatusPayload:
			fmt.Fprintf(w, "[%s]\n", p.Message)
		case redraft.DeltaPayload:
			fmt.Fprint(w, p.Delta)
		case redraft.AssistantCompletePayload:
			fmt.Fprintln(w)
		case redraft.ChangesPayload:
			changes = p.Changes
			b, _ := json.MarshalIndent(p.Changes, "", "  ")
			fmt.Fprintf(w, "changes: %s\n", b)
		case redraft.ResultPayload:
			if len(p.SearchSources) > 0 {
				fmt.Fprintf(w, "sources: %v\n", p.SearchSources)
			}
		case redraft.ErrorPayload:
			runErr = fmt.Errorf("run failed: %s: %s", p.Error, p.Message)
		}
	}
	return changes, runErr
}

func init() {
	f := runCmd.Flags()
	f.String("file", "", "document to edit (missing or empty means an empty document)")
	f.String("instructions", "", "what the assistant should do")
	f.String("mode", "edit", `"edit" or "ask"`)
	f.String("tier", "", "model tier to request")
	f.String("user", "", "user id for premium tiers and web search")
	f.Bool("search", false, "let the assistant search the web")
	f.Bool("write", false, "apply the change map to --file")
	_ = runCmd.MarkFlagRequired("instructions")
}
