package skills

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchPage = `<html><body>
<h1>Results</h1>
<ul>
<li><a href="/skills/flask-dashboard">Flask dashboard patterns</a></li>
<li><a href="/skills/scraping">Polite scraping</a></li>
<li><a href="/skills/scraping">Polite scraping (duplicate)</a></li>
<li><a href="#top">Back to top</a></li>
<li><a href="https://other.example.com/ext">External guide</a></li>
</ul>
</body></html>`

func TestFindForContext(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, searchPage)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, nil)
	found := c.FindForContext(context.Background(), []string{"python", "flask", "python"}, 10)

	assert.Equal(t, "python flask", gotQuery)
	require.Len(t, found, 3)
	assert.Equal(t, "Flask dashboard patterns", found[0].Title)
	assert.Equal(t, srv.URL+"/skills/flask-dashboard", found[0].Href)
	assert.Equal(t, "https://other.example.com/ext", found[2].Href)
}

func TestFindForContextLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchPage)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, nil)
	found := c.FindForContext(context.Background(), []string{"python"}, 1)
	assert.Len(t, found, 1)
}

func TestFindForContextTolerance(t *testing.T) {
	// No URL configured.
	assert.Empty(t, NewClient("", nil).FindForContext(context.Background(), []string{"x"}, 5))

	// Server error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	assert.Empty(t, NewClient(srv.URL, nil).FindForContext(context.Background(), []string{"x"}, 5))

	// Unreachable host.
	dead := NewClient("http://127.0.0.1:1", nil)
	assert.Empty(t, dead.FindForContext(context.Background(), []string{"x"}, 5))

	// No keywords.
	assert.Empty(t, NewClient(srv.URL, nil).FindForContext(context.Background(), nil, 5))
}

func TestKeywords(t *testing.T) {
	kw := Keywords(
		[]string{"Python", "", "  Flask "},
		[]string{"Scraper des annonces", "Dashboard temps réel"},
		"Bot Python qui scrape des annonces",
		5,
	)
	require.Len(t, kw, 4)
	assert.Equal(t, []string{"python", "flask", "scraper", "dashboard"}, kw)
}

func TestKeywordsFillsFromDescription(t *testing.T) {
	kw := Keywords(nil, nil, "landing statique pour une cafétéria", 3)
	require.NotEmpty(t, kw)
	assert.LessOrEqual(t, len(kw), 3)
	assert.Contains(t, kw, "landing")
}

func TestKeywordsDeduplicates(t *testing.T) {
	kw := Keywords([]string{"python", "python"}, []string{"python bots"}, "", 5)
	assert.Equal(t, []string{"python"}, kw)
}
