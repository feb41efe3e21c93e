package docketapp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/etnz/docket/store"
	"github.com/mitchellh/go-wordwrap"
)

const wrapWidth = 80 // Approximate width to wrap lines

// Console is the interactive terminal surface of a session.
type Console struct {
	s *Session
	w io.Writer
	r *bufio.Reader
}

// NewConsole creates a new Console.
func NewConsole(s *Session, w io.Writer, r io.Reader) *Console {
	return &Console{s: s, w: w, r: bufio.NewReader(r)}
}

// Run starts the REPL. inputs are executed first, as if typed.
func (c *Console) Run(ctx context.Context, inputs ...string) error {
	fmt.Fprintln(c.w, "Welcome to Drive Docket.")
	fmt.Fprintln(c.w, "Type 'help' for commands, 'bye' or Ctrl+D to exit.")
	c.printStatus()

	for {
		fmt.Fprint(c.w, "> ")

		var input string
		if len(inputs) > 0 {
			input = strings.TrimSpace(inputs[0])
			inputs = inputs[1:]
			if input == "" {
				continue
			}
			fmt.Fprintln(c.w, input)
		} else {
			var err error
			input, err = c.r.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					fmt.Fprintln(c.w) // Newline on exit
					return nil        // Clean exit on Ctrl+D
				}
				return err
			}
		}

		cmd, arg, _ := strings.Cut(strings.TrimSpace(input), " ")
		arg = strings.TrimSpace(arg)
		if cmd == "bye" {
			return nil
		}
		if err := c.exec(ctx, cmd, arg); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// exec runs one command. Errors have already been reported in the status
// line; they are returned for the caller to detect cancellation.
func (c *Console) exec(ctx context.Context, cmd, arg string) error {
	var err error
	switch cmd {
	case "":
		return nil
	case "connect":
		if c.s.State().Connected {
			fmt.Fprintln(c.w, "Already connected. Use 'disconnect' first.")
			return nil
		}
		err = c.s.LoginLoopback(ctx, c.w)
	case "disconnect":
		c.s.Disconnect()
	case "fetch":
		_, err = c.s.Fetch(ctx, arg)
		if st := c.s.State(); err == nil && st.Preview != "" {
			writeSection(c.w, "Fetched Content Preview", st.Preview, 10)
		}
	case "list":
		renderDocuments(c.w, c.s.State().Documents)
		return nil
	case "view":
		var id string
		if id, err = c.resolveID(arg); err == nil {
			_, err = c.s.Select(id)
		}
		if err != nil {
			fmt.Fprintf(c.w, "No document %q.\n", arg)
			return err
		}
		renderSelected(c.w, c.s.State().Selected)
		return nil
	case "close":
		c.s.CloseSelected()
		return nil
	case "delete":
		var id string
		if id, err = c.resolveID(arg); err != nil {
			fmt.Fprintf(c.w, "No document %q.\n", arg)
			return err
		}
		err = c.s.Delete(ctx, id)
	case "clear":
		c.s.ClearPreview()
		return nil
	case "status":
		RenderText(c.w, c.s.State())
		return nil
	default:
		c.help()
		return nil
	}
	c.printStatus()
	return err
}

// resolveID accepts a full document ID or an unambiguous prefix of one.
func (c *Console) resolveID(prefix string) (string, error) {
	if prefix == "" {
		return "", store.ErrNotFound
	}
	var match string
	for _, d := range c.s.State().Documents {
		if d.ID == prefix {
			return d.ID, nil
		}
		if strings.HasPrefix(d.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("ambiguous document id %q", prefix)
			}
			match = d.ID
		}
	}
	if match == "" {
		return "", store.ErrNotFound
	}
	return match, nil
}

func (c *Console) printStatus() {
	writeMultiline(c.w, "Status", ":", c.s.State().Status)
}

func (c *Console) help() {
	fmt.Fprint(c.w, `Commands:
  connect         connect your Google Account
  disconnect      disconnect your Google Account
  fetch <url>     fetch a Google Drive file and save its content
  list            list saved documents
  view <id>       show a saved document
  close           close the document view
  delete <id>     delete a saved document
  clear           clear the content preview
  status          show the whole session
  bye             exit
`)
}

// RenderText writes the whole state as plain text.
func RenderText(w io.Writer, st State) {
	fmt.Fprintln(w, "Drive Docket")
	if st.Connected {
		fmt.Fprintln(w, "[Disconnect]")
	} else {
		fmt.Fprintln(w, "[Connect Google]")
	}
	writeMultiline(w, "Status", ":", st.Status)
	if st.Input != "" {
		writeMultiline(w, "URL", ":", st.Input)
	}
	if st.Loading {
		fmt.Fprintln(w, "Fetching...")
	}
	if st.Preview != "" {
		writeSection(w, "Fetched Content Preview", st.Preview, 10)
	}
	renderDocuments(w, st.Documents)
	userID := st.UserID
	if userID == "" {
		userID = "Connecting..."
	}
	fmt.Fprintf(w, "Your User ID: %s\n", userID)
	if st.Selected != nil {
		renderSelected(w, st.Selected)
	}
}

// RenderInitError writes the view shown when the application could not
// start.
func RenderInitError(w io.Writer, err error) {
	fmt.Fprintln(w, "Initialization Error")
	fmt.Fprintln(w, "Could not initialize the document store. Please check the provided configuration.")
	if err != nil {
		writeMultiline(w, "Cause", ":", err.Error())
	}
}

func renderDocuments(w io.Writer, docs []store.Document) {
	fmt.Fprintln(w, "Saved Documents")
	if len(docs) == 0 {
		fmt.Fprintln(w, "  No documents saved yet.")
		return
	}
	for _, d := range docs {
		fmt.Fprintf(w, "  %s  %s\n", shortID(d.ID), d.FileName)
		if d.OriginalURL != "" {
			fmt.Fprintf(w, "  %8s  %s\n", "", d.OriginalURL)
		}
		fmt.Fprintf(w, "  %8s  Saved: %s\n", "", formatTime(d.CreatedAt))
	}
}

func renderSelected(w io.Writer, d *store.Document) {
	if d == nil {
		return
	}
	fmt.Fprintf(w, "--- %s ---\n", d.FileName)
	fmt.Fprintln(w, d.Content)
	fmt.Fprintln(w, "--- [close] ---")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "pending"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// writeSection writes a titled excerpt of text, at most maxLines lines.
func writeSection(w io.Writer, title, text string, maxLines int) {
	fmt.Fprintf(w, "%s:\n", title)
	lines := strings.Split(wordwrap.WrapString(text, wrapWidth-2), "\n")
	for i, line := range lines {
		if i == maxLines {
			fmt.Fprintf(w, "  ... (%d more lines)\n", len(lines)-maxLines)
			break
		}
		fmt.Fprintf(w, "  %s\n", line)
	}
}

// writeMultiline writes text with a consistent format. It prefixes the
// first line with name and a prompt character, and indents subsequent
// lines.
func writeMultiline(w io.Writer, name, promptChar, text string) {
	// The prefix for the first line, e.g., "  Status: "
	firstLinePrefix := fmt.Sprintf("%8s%s ", name, promptChar)
	// The prefix for subsequent/wrapped lines.
	indentPrefix := fmt.Sprintf("%8s  ", "")

	textWidth := wrapWidth - len(firstLinePrefix)
	if textWidth < 20 { // Ensure we have a minimum width
		textWidth = 20
	}

	wrappedLines := strings.Split(wordwrap.WrapString(text, uint(textWidth)), "\n")
	for i, line := range wrappedLines {
		if i == 0 {
			fmt.Fprintf(w, "%s%s\n", firstLinePrefix, line)
		} else {
			fmt.Fprintf(w, "%s%s\n", indentPrefix, line)
		}
	}
}
