package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/memarena/internal/client"
	"github.com/soyeahso/memarena/internal/config"
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/rounds"
)

// clientFlags are the connection flags shared by the client commands.
type clientFlags struct {
	server string
	user   string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.server, "server", "", "memarena server URL (default client.serverUrl)")
	cmd.PersistentFlags().StringVar(&f.user, "user", "", "user id to act as (default client.userId)")
}

// newClient builds an API client from cfg overridden by the flags.
func (f *clientFlags) newClient(cfg *config.Config) (*client.Client, error) {
	server := cfg.Client.ServerURL
	if f.server != "" {
		server = f.server
	}
	user := cfg.Client.UserID
	if f.user != "" {
		user = f.user
	}
	if user == "" {
		return nil, fmt.Errorf("a user id is required (--user or client.userId)")
	}
	return client.New(server, user, nil, log), nil
}

// readFiles loads local files to attach, guessing each media type from the
// extension or, failing that, the content.
func readFiles(names []string) ([]client.File, error) {
	files := make([]client.File, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		mt := mime.TypeByExtension(filepath.Ext(name))
		if mt == "" {
			mt = http.DetectContentType(data)
		}
		if i := strings.Index(mt, ";"); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		files = append(files, client.File{Name: filepath.Base(name), MimeType: mt, Data: data})
	}
	return files, nil
}

// profileMap turns the user's Memory Lake ids into the loosely typed object
// the chat route accepts.
func profileMap(p *domain.ArenaProfile) map[string]any {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p.MemorylakeProfile)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// renderRound writes one round: the user's text, then one block per agent.
func renderRound(w io.Writer, n int, r rounds.Round, cells []rounds.Cell) {
	fmt.Fprintf(w, "── Round %d ──\n", n)
	fmt.Fprintf(w, "you: %s\n", r.User.Text())
	for _, ref := range r.User.FileRefs() {
		fmt.Fprintf(w, "     [%s]\n", ref.Filename)
	}
	for i, cell := range cells {
		name := string(domain.Agents[i].ID)
		if d := domain.Agents[i].DisplayName; d != "" {
			name = d
		}
		fmt.Fprintf(w, "\n%s:\n", name)
		switch {
		case cell.ErrorText != "":
			fmt.Fprintf(w, "  ! %s\n", cell.ErrorText)
		case cell.Waiting:
			fmt.Fprintln(w, "  …")
		case cell.Text != "":
			for _, line := range strings.Split(strings.TrimRight(cell.Text, "\n"), "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
		default:
			fmt.Fprintln(w, "  (no reply)")
		}
	}
	fmt.Fprintln(w)
}
