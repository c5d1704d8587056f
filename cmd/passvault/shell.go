package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/passvault/internal/cli"
	"github.com/forest6511/passvault/pkg/clipboard"
	"github.com/forest6511/passvault/pkg/vault"
)

// errQuit ends the shell loop normally.
var errQuit = errors.New("quit")

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive session",
	Long: `Unlock the vault once and run commands against it interactively.

The session locks itself after the configured idle timeout; the shell then
exits. Type 'help' for the list of commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
		defer stop()

		s, err := unlock(ctx)
		if err != nil {
			return err
		}
		defer s.Lock()

		var clip *clipboard.Clipboard
		if c, err := clipboard.New(logger); err == nil {
			clip = c
		} else {
			logger.Debugw("clipboard unavailable", "error", err)
		}

		sh := newShell(s, newLineReader(readShellLine), os.Stdout, clip)
		return sh.run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// readShellLine reads from the shared stdin, without echo for secrets on a
// terminal.
func readShellLine(secret bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if secret && term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := stdin.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimRight(line, "\r\n"), err
}

type lineResult struct {
	line string
	err  error
}

// lineReader reads lines on its own goroutine so that a prompt can be
// abandoned when the session locks.
type lineReader struct {
	req  chan bool
	resp chan lineResult
}

func newLineReader(read func(secret bool) (string, error)) *lineReader {
	r := &lineReader{
		req:  make(chan bool),
		resp: make(chan lineResult, 1),
	}
	go func() {
		for secret := range r.req {
			line, err := read(secret)
			r.resp <- lineResult{line: line, err: err}
		}
	}()
	return r
}

type shellCommand struct {
	usage string
	help  string
	run   func(sh *shell, ctx context.Context, arg string) error
}

var shellCommands map[string]shellCommand

func init() {
	shellCommands = map[string]shellCommand{
		"help":       {"help", "Show this help", (*shell).cmdHelp},
		"list":       {"list [category]", "List records, optionally in one category", (*shell).cmdList},
		"search":     {"search <query>", "Search name, website, username and category", (*shell).cmdSearch},
		"show":       {"show <name|id>", "Show a record with its password masked", (*shell).cmdShow},
		"reveal":     {"reveal <name|id>", "Show a record including its password", (*shell).cmdReveal},
		"copy":       {"copy <name|id>", "Copy a password to the clipboard", (*shell).cmdCopy},
		"add":        {"add", "Add a record", (*shell).cmdAdd},
		"edit":       {"edit <name|id>", "Edit a record", (*shell).cmdEdit},
		"delete":     {"delete <name|id>", "Delete a record", (*shell).cmdDelete},
		"categories": {"categories", "List categories", (*shell).cmdCategories},
		"addcat":     {"addcat <name>", "Add a category", (*shell).cmdAddCategory},
		"delcat":     {"delcat <name>", "Delete a category; its records move to " + vault.FallbackCategory, (*shell).cmdDeleteCategory},
		"lock":       {"lock", "Lock the vault and leave the shell", (*shell).cmdQuit},
	}
}

var shellAliases = map[string]string{
	"ls":   "list",
	"find": "search",
	"rm":   "delete",
	"cats": "categories",
	"exit": "lock",
	"quit": "lock",
	"?":    "help",
}

type shell struct {
	s      *vault.Session
	in     *lineReader
	out    io.Writer
	clip   *clipboard.Clipboard
	copies []<-chan struct{}
}

func newShell(s *vault.Session, in *lineReader, out io.Writer, clip *clipboard.Clipboard) *shell {
	return &shell{s: s, in: in, out: out, clip: clip}
}

func (sh *shell) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		// cancelling clears any password still on the clipboard
		cancel()
		for _, done := range sh.copies {
			<-done
		}
	}()

	fmt.Fprintln(sh.out, "Vault unlocked. Type 'help' for commands.")
	for {
		line, err := sh.prompt(ctx, "passvault> ", false)
		switch {
		case errors.Is(err, vault.ErrVaultLocked):
			fmt.Fprintln(sh.out, "\nVault locked after inactivity.")
			return nil
		case errors.Is(err, io.EOF):
			fmt.Fprintln(sh.out)
			return nil
		case err != nil:
			return err
		}

		err = sh.exec(ctx, line)
		switch {
		case errors.Is(err, errQuit):
			fmt.Fprintln(sh.out, "Vault locked.")
			return nil
		case errors.Is(err, vault.ErrVaultLocked):
			fmt.Fprintln(sh.out, "Vault locked after inactivity.")
			return nil
		case errors.Is(err, vault.ErrVaultConflict):
			sh.s.Lock()
			fmt.Fprintln(sh.out, "Vault was replaced by another program. Unlock again.")
			return nil
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
	}
}

// prompt reads one line. It gives up with vault.ErrVaultLocked when the
// session locks while waiting.
func (sh *shell) prompt(ctx context.Context, label string, secret bool) (string, error) {
	fmt.Fprint(sh.out, label)
	select {
	case sh.in.req <- secret:
	case <-sh.s.Done():
		return "", vault.ErrVaultLocked
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-sh.in.resp:
		return r.line, r.err
	case <-sh.s.Done():
		return "", vault.ErrVaultLocked
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (sh *shell) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, arg, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	if alias, ok := shellAliases[name]; ok {
		name = alias
	}
	c, ok := shellCommands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (type 'help')", name)
	}

	sh.s.Touch()
	return c.run(sh, ctx, strings.TrimSpace(arg))
}

func (sh *shell) cmdHelp(_ context.Context, _ string) error {
	names := cli.MapKeys(shellCommands)
	sort.Strings(names)
	w := tabwriter.NewWriter(sh.out, 0, 0, 2, ' ', 0)
	for _, n := range names {
		fmt.Fprintf(w, "  %s\t%s\n", shellCommands[n].usage, shellCommands[n].help)
	}
	return w.Flush()
}

func (sh *shell) cmdQuit(_ context.Context, _ string) error {
	return errQuit
}

func (sh *shell) cmdList(_ context.Context, category string) error {
	if category == "" {
		category = vault.AllCategories
	}
	records, err := sh.s.Search("", category)
	if err != nil {
		return err
	}
	sh.printRecords(records)
	return nil
}

func (sh *shell) cmdSearch(_ context.Context, query string) error {
	records, err := sh.s.Search(query, vault.AllCategories)
	if err != nil {
		return err
	}
	sh.printRecords(records)
	return nil
}

func (sh *shell) printRecords(records []vault.CredentialRecord) {
	if len(records) == 0 {
		fmt.Fprintln(sh.out, "No records found")
		return
	}
	w := tabwriter.NewWriter(sh.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tUSERNAME\tWEBSITE\tCATEGORY")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Username, r.Website, r.Category)
	}
	w.Flush()
}

func (sh *shell) find(selector string) (vault.CredentialRecord, error) {
	if selector == "" {
		return vault.CredentialRecord{}, errors.New("missing record name or id")
	}
	records, err := sh.s.Records()
	if err != nil {
		return vault.CredentialRecord{}, err
	}
	return cli.SelectOne(selector, records)
}

func (sh *shell) cmdShow(_ context.Context, selector string) error {
	return sh.show(selector, false)
}

func (sh *shell) cmdReveal(_ context.Context, selector string) error {
	return sh.show(selector, true)
}

func (sh *shell) show(selector string, reveal bool) error {
	r, err := sh.find(selector)
	if err != nil {
		return err
	}
	password := "********"
	if reveal {
		password = r.Password
	}
	fmt.Fprintf(sh.out, "Name:      %s\n", r.Name)
	fmt.Fprintf(sh.out, "Website:   %s\n", r.Website)
	fmt.Fprintf(sh.out, "Username:  %s\n", r.Username)
	fmt.Fprintf(sh.out, "Password:  %s\n", password)
	fmt.Fprintf(sh.out, "Category:  %s\n", r.Category)
	if r.Notes != "" {
		fmt.Fprintf(sh.out, "Notes:     %s\n", r.Notes)
	}
	return nil
}

func (sh *shell) cmdCopy(ctx context.Context, selector string) error {
	if sh.clip == nil {
		return clipboard.ErrUnsupported
	}
	r, err := sh.find(selector)
	if err != nil {
		return err
	}
	done, err := sh.clip.Copy(ctx, r.Password, cfg.ClipboardClear)
	if err != nil {
		return err
	}
	sh.copies = append(sh.copies, done)
	if cfg.ClipboardClear > 0 {
		fmt.Fprintf(sh.out, "Password of '%s' copied; clearing in %s\n", r.Name, cfg.ClipboardClear)
	} else {
		fmt.Fprintf(sh.out, "Password of '%s' copied\n", r.Name)
	}
	return nil
}

func (sh *shell) cmdAdd(ctx context.Context, _ string) error {
	var in vault.RecordInput
	fields := []struct {
		label string
		dst   *string
	}{
		{"Name: ", &in.Name},
		{"Website: ", &in.Website},
		{"Username: ", &in.Username},
		{"Category [" + vault.FallbackCategory + "]: ", &in.Category},
		{"Notes: ", &in.Notes},
	}
	for _, f := range fields {
		v, err := sh.prompt(ctx, f.label, false)
		if err != nil {
			return err
		}
		*f.dst = v
	}

	password, err := sh.promptPassword(ctx, "Password (empty to generate): ")
	if err != nil {
		return err
	}
	in.Password = password

	rec, err := sh.s.AddRecord(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Record '%s' added\n", rec.Name)
	return nil
}

// promptPassword reads a password, generating one for an empty answer.
func (sh *shell) promptPassword(ctx context.Context, label string) (string, error) {
	password, err := sh.prompt(ctx, label, true)
	if err != nil {
		return "", err
	}
	if password != "" {
		return password, nil
	}
	return randomPassword(defaultPasswordLength)
}

func (sh *shell) cmdEdit(ctx context.Context, selector string) error {
	r, err := sh.find(selector)
	if err != nil {
		return err
	}

	fmt.Fprintln(sh.out, "Press Enter to keep the current value.")
	var patch vault.RecordPatch
	fields := []struct {
		label   string
		current string
		dst     **string
	}{
		{"Name", r.Name, &patch.Name},
		{"Website", r.Website, &patch.Website},
		{"Username", r.Username, &patch.Username},
		{"Category", r.Category, &patch.Category},
		{"Notes", r.Notes, &patch.Notes},
	}
	for _, f := range fields {
		v, err := sh.prompt(ctx, fmt.Sprintf("%s [%s]: ", f.label, f.current), false)
		if err != nil {
			return err
		}
		if v != "" && v != f.current {
			value := v
			*f.dst = &value
		}
	}

	answer, err := sh.prompt(ctx, "Change password? [y/N/g(enerate)]: ", false)
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		password, err := sh.promptPassword(ctx, "New password (empty to generate): ")
		if err != nil {
			return err
		}
		patch.Password = &password
	case "g", "generate":
		password, err := randomPassword(defaultPasswordLength)
		if err != nil {
			return err
		}
		patch.Password = &password
	}

	if patch.IsEmpty() {
		fmt.Fprintln(sh.out, "Nothing changed")
		return nil
	}
	rec, err := sh.s.UpdateRecord(ctx, r.ID, patch)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("record '%s' no longer exists", r.Name)
	}
	fmt.Fprintf(sh.out, "Record '%s' updated\n", rec.Name)
	return nil
}

func (sh *shell) cmdDelete(ctx context.Context, selector string) error {
	r, err := sh.find(selector)
	if err != nil {
		return err
	}
	answer, err := sh.prompt(ctx, fmt.Sprintf("Delete '%s'? [y/N]: ", r.Name), false)
	if err != nil {
		return err
	}
	if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
		fmt.Fprintln(sh.out, "Aborted")
		return nil
	}
	if _, err := sh.s.DeleteRecord(ctx, r.ID); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Record '%s' deleted\n", r.Name)
	return nil
}

func (sh *shell) cmdCategories(_ context.Context, _ string) error {
	categories, err := sh.s.Categories()
	if err != nil {
		return err
	}
	records, err := sh.s.Records()
	if err != nil {
		return err
	}
	counts := make(map[string]int, len(categories))
	for _, r := range records {
		counts[r.Category]++
	}
	for _, c := range categories {
		fmt.Fprintf(sh.out, "  %s (%d)\n", c, counts[c])
	}
	return nil
}

func (sh *shell) cmdAddCategory(ctx context.Context, name string) error {
	name, err := vault.CleanCategoryName(name)
	if err != nil {
		return err
	}
	if err := sh.s.AddCategory(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Category '%s' added\n", name)
	return nil
}

func (sh *shell) cmdDeleteCategory(ctx context.Context, name string) error {
	if err := sh.s.DeleteCategory(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Category '%s' deleted\n", name)
	return nil
}
