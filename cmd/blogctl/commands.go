package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/yuin/goldmark"

	"github.com/blackmichael/blogapp/internal/domain"
	"github.com/blackmichael/blogapp/internal/remote"
)

func newFlagSet(name string, g *globals) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	g.register(fs)
	return fs
}

func parse(fs *flag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func runSignUp(ctx context.Context, g *globals, args []string) error {
	if ok, err := parse(newFlagSet("signup", g), args); !ok {
		return err
	}
	if err := g.requireCredentials(); err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	u, err := c.SignUp(ctx, g.email, g.password)
	if err != nil {
		return err
	}
	if err := g.saveSession(c); err != nil {
		return err
	}
	fmt.Printf("Signed up as %s (%s)\n", u.Email, u.ID)
	return nil
}

func runLogin(ctx context.Context, g *globals, args []string) error {
	if ok, err := parse(newFlagSet("login", g), args); !ok {
		return err
	}
	if err := g.requireCredentials(); err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	u, err := c.Login(ctx, g.email, g.password)
	if err != nil {
		return err
	}
	if err := g.saveSession(c); err != nil {
		return err
	}
	fmt.Printf("Signed in as %s\n", u.Email)
	return nil
}

func runLogout(ctx context.Context, g *globals, args []string) error {
	if ok, err := parse(newFlagSet("logout", g), args); !ok {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	resumed, err := loadSession(g.session, g.server, c)
	if err != nil {
		return err
	}
	if !resumed {
		fmt.Println("Not signed in")
		return nil
	}
	if err := c.SignOut(ctx); err != nil && !errors.Is(err, domain.ErrSignedOut) {
		return err
	}
	if err := clearSession(g.session); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func runWhoAmI(ctx context.Context, g *globals, args []string) error {
	if ok, err := parse(newFlagSet("whoami", g), args); !ok {
		return err
	}
	c, err := g.signedIn(ctx)
	if err != nil {
		return err
	}
	u, err := c.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", u.Email, u.ID)
	return nil
}

func runFeed(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("feed", g)
	watch := fs.Bool("watch", false, "keep running and print the feed after every change")
	checkImages := fs.Bool("check-images", false, "check cover images and show the fallback for broken ones")
	if ok, err := parse(fs, args); !ok {
		return err
	}

	c, err := g.client()
	if err != nil {
		return err
	}

	var check imageCheck
	if *checkImages {
		check = headCheck(&http.Client{Timeout: 5 * time.Second})
	}

	views := make(chan domain.FeedView, 1)
	feed := domain.NewFeedSynchronizer(c, slog.New(slog.NewTextHandler(io.Discard, nil)), func(v domain.FeedView) {
		// Keep only the latest view.
		select {
		case <-views:
		default:
		}
		select {
		case views <- v:
		default:
		}
	})

	fmt.Println(loadingMessage)
	release, err := feed.Activate(ctx)
	if err != nil {
		return err
	}
	defer release()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-views:
			writeFeed(os.Stdout, v, check)
			if !*watch {
				return nil
			}
		}
	}
}

func runShow(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("show", g)
	id := fs.String("id", "", "post ID")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	c, err := g.client()
	if err != nil {
		return err
	}
	post, err := c.GetPost(ctx, *id)
	if err != nil {
		return err
	}
	writePost(os.Stdout, *post)
	return nil
}

// postFlags are the form fields shared by create and edit.
type postFlags struct {
	title    string
	body     string
	bodyFile string
	markdown bool
	image    string
	imageURL string
}

func (p *postFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.title, "title", "", "post title")
	fs.StringVar(&p.body, "body", "", "post body (HTML, or Markdown with --markdown)")
	fs.StringVar(&p.bodyFile, "body-file", "", "read the post body from a file")
	fs.BoolVar(&p.markdown, "markdown", false, "convert the body from Markdown to HTML")
	fs.StringVar(&p.image, "image", "", "cover image file to upload")
	fs.StringVar(&p.imageURL, "image-url", "", "cover image URL")
}

// resolveBody returns the body to submit and whether one was given.
func (p *postFlags) resolveBody() (string, bool, error) {
	if p.body != "" && p.bodyFile != "" {
		return "", false, errors.New("use either --body or --body-file")
	}
	body := p.body
	if p.bodyFile != "" {
		data, err := os.ReadFile(p.bodyFile)
		if err != nil {
			return "", false, fmt.Errorf("read body file: %w", err)
		}
		body = string(data)
	}
	if body == "" {
		return "", false, nil
	}
	if p.markdown {
		html, err := markdownToHTML(body)
		if err != nil {
			return "", false, err
		}
		body = html
	}
	return body, true, nil
}

// apply copies the given flags into the composer. Empty title and body
// flags leave the composer's values alone.
func (p *postFlags) apply(c *domain.Composer) error {
	if p.title != "" {
		c.SetTitle(p.title)
	}
	body, ok, err := p.resolveBody()
	if err != nil {
		return err
	}
	if ok {
		c.SetBody(body)
	}
	if p.image != "" {
		data, err := os.ReadFile(p.image)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		if err := c.SelectFile(filepath.Base(p.image), data); err != nil {
			return err
		}
	}
	if p.imageURL != "" {
		if err := c.SetImageURL(p.imageURL); err != nil {
			return fmt.Errorf("--image-url: %w", err)
		}
	}
	return nil
}

func markdownToHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

func composerDeps(c *remote.Client, server string) domain.ComposerDeps {
	out := &console{out: os.Stdout, errOut: os.Stderr, server: server}
	return domain.ComposerDeps{
		Posts:     c,
		Blobs:     c,
		Session:   c,
		Notifier:  out,
		Navigator: out,
		Logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

func runCreate(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("create", g)
	var pf postFlags
	pf.register(fs)
	if ok, err := parse(fs, args); !ok {
		return err
	}

	c, err := g.signedIn(ctx)
	if err != nil {
		return err
	}
	composer := domain.NewComposer(composerDeps(c, g.server))
	if err := pf.apply(composer); err != nil {
		return err
	}
	outcome, err := composer.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Created post %s\n", outcome.PostID)
	return nil
}

func runEdit(ctx context.Context, g *globals, args []string) error {
	fs := newFlagSet("edit", g)
	id := fs.String("id", "", "post ID")
	var pf postFlags
	pf.register(fs)
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	c, err := g.signedIn(ctx)
	if err != nil {
		return err
	}
	composer, err := domain.LoadComposer(ctx, composerDeps(c, g.server), *id)
	if err != nil {
		return err
	}
	if err := pf.apply(composer); err != nil {
		return err
	}
	_, err = composer.Submit(ctx)
	return err
}
