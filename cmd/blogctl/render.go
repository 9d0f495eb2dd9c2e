package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/blackmichael/blogapp/internal/domain"
)

const (
	loadingMessage = "Loading posts..."
	emptyMessage   = "No posts yet. Be the first to write one!"
)

// imageCheck reports whether an image URL loads.
type imageCheck func(url string) bool

func headCheck(hc *http.Client) imageCheck {
	return func(url string) bool {
		resp, err := hc.Head(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode < 400
	}
}

func writeFeed(w io.Writer, v domain.FeedView, check imageCheck) {
	if v.Loading {
		fmt.Fprintln(w, loadingMessage)
		return
	}
	if len(v.Posts) == 0 {
		fmt.Fprintln(w, emptyMessage)
		return
	}
	for i, p := range v.Posts {
		if i > 0 {
			fmt.Fprintln(w)
		}
		writeCard(w, domain.RenderCard(p), check)
	}
}

func writeCard(w io.Writer, card *domain.Card, check imageCheck) {
	if cover := card.CoverImage(); cover != "" && check != nil && !check(cover) {
		card.ImageFailed()
	}

	fmt.Fprintln(w, card.Title)
	fmt.Fprintf(w, "  by %s on %s\n", card.AuthorName, card.Date)
	if cover := card.CoverImage(); cover != "" {
		fmt.Fprintf(w, "  cover: %s\n", cover)
	}
	fmt.Fprintf(w, "  %s\n", card.Excerpt)
	fmt.Fprintf(w, "  read more: %s\n", card.Link)
}

func writePost(w io.Writer, p domain.Post) {
	fmt.Fprintln(w, p.Title)
	fmt.Fprintln(w, strings.Repeat("=", len([]rune(p.Title))))
	fmt.Fprintf(w, "by %s on %s\n", p.Author.Name, domain.FormatDate(p.CreatedAt))
	if p.UpdatedAt != nil {
		fmt.Fprintf(w, "updated %s\n", domain.FormatDate(p.UpdatedAt))
	}
	if p.CoverImage != "" {
		fmt.Fprintf(w, "cover: %s\n", p.CoverImage)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, domain.PlainText(p.Body))
}

// console shows composer notices and navigation on the terminal.
type console struct {
	out    io.Writer
	errOut io.Writer
	server string
}

func (c *console) Notify(n domain.Notice) {
	if n.Kind == domain.NoticeError {
		fmt.Fprintf(c.errOut, "error: %s\n", n.Message)
		return
	}
	fmt.Fprintln(c.out, n.Message)
}

func (c *console) Navigate(path string) {
	fmt.Fprintf(c.out, "-> %s%s\n", strings.TrimRight(c.server, "/"), path)
}
