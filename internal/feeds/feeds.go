package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/laopeng-portal/internal/daycache"
)

// Cache prefixes. Keys are prefix_YYYY-M-D.
const (
	HomePrefix = "home_data"
	NewsPrefix = "news_list"
)

// Topic is the daily discussion prompt shown on the home page.
type Topic struct {
	Title string   `json:"title"`
	Hint  string   `json:"hint"`
	Tags  []string `json:"tags"`
}

// Headline is the day's most important news item.
type Headline struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	Date   string `json:"date"`
}

// HomeData is the home page feed.
type HomeData struct {
	Topic    Topic    `json:"topic"`
	Headline Headline `json:"headline"`
}

// NewsItem is one entry of the news list. AgentQuery is a suggested
// question to open a chat about the item.
type NewsItem struct {
	ID         int    `json:"id"`
	Category   string `json:"category"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Date       string `json:"date"`
	Hot        bool   `json:"hot"`
	AgentQuery string `json:"agentQuery"`
}

// Querier answers a single prompt. [*Fetcher] is the production
// implementation.
type Querier interface {
	Query(ctx context.Context, prompt string) (string, error)
}

// Loader produces the feeds, consulting the day cache first.
type Loader struct {
	querier Querier
	cache   *daycache.Cache
	now     func() time.Time
	logger  *slog.Logger

	// One in-flight fetch per feed; a concurrent caller waits and then
	// reads the freshly written cache entry.
	homeMu sync.Mutex
	newsMu sync.Mutex
}

// NewLoader creates a loader. now supplies the date quoted in prompts;
// nil means time.Now.
func NewLoader(q Querier, cache *daycache.Cache, now func() time.Time, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Loader{
		querier: q,
		cache:   cache,
		now:     now,
		logger:  logger.With("component", "feeds"),
	}
}

// todayString renders t as a long Chinese date, e.g. 2026年2月22日.
func todayString(t time.Time) string {
	t = t.Local()
	return fmt.Sprintf("%d年%d月%d日", t.Year(), int(t.Month()), t.Day())
}

// LoadHome returns today's home feed.
func (l *Loader) LoadHome(ctx context.Context) (HomeData, error) {
	l.homeMu.Lock()
	defer l.homeMu.Unlock()

	if cached, ok := daycache.Read[HomeData](l.cache, HomePrefix); ok {
		l.logger.Debug("home feed cache hit")
		return cached, nil
	}

	raw, err := l.querier.Query(ctx, homePrompt(todayString(l.now())))
	if err != nil {
		return HomeData{}, err
	}
	payload, err := ExtractJSON(raw, '{')
	if err != nil {
		return HomeData{}, fmt.Errorf("home feed: %w", err)
	}

	var data HomeData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return HomeData{}, fmt.Errorf("home feed: decode: %w", err)
	}
	data = sanitizeHome(data)

	l.cache.Write(HomePrefix, data)
	l.logger.Info("home feed refreshed", "topic", data.Topic.Title)
	return data, nil
}

// LoadNews returns today's news list. Items without an id are numbered
// by position starting at 1.
func (l *Loader) LoadNews(ctx context.Context) ([]NewsItem, error) {
	l.newsMu.Lock()
	defer l.newsMu.Unlock()

	if cached, ok := daycache.Read[[]NewsItem](l.cache, NewsPrefix); ok {
		l.logger.Debug("news feed cache hit", "items", len(cached))
		return cached, nil
	}

	raw, err := l.querier.Query(ctx, newsPrompt(todayString(l.now())))
	if err != nil {
		return nil, err
	}
	payload, err := ExtractJSON(raw, '[')
	if err != nil {
		return nil, fmt.Errorf("news feed: %w", err)
	}

	var decoded []struct {
		NewsItem
		ID *int `json:"id"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("news feed: decode: %w", err)
	}

	items := make([]NewsItem, len(decoded))
	for i, d := range decoded {
		item := d.NewsItem
		item.ID = i + 1
		if d.ID != nil {
			item.ID = *d.ID
		}
		items[i] = sanitizeNews(item)
	}

	l.cache.Write(NewsPrefix, items)
	l.logger.Info("news feed refreshed", "items", len(items))
	return items, nil
}

func sanitizeHome(d HomeData) HomeData {
	d.Topic.Title = plainText(d.Topic.Title)
	d.Topic.Hint = plainText(d.Topic.Hint)
	tags := make([]string, 0, len(d.Topic.Tags))
	for _, t := range d.Topic.Tags {
		if t = plainText(t); t != "" {
			tags = append(tags, t)
		}
	}
	d.Topic.Tags = tags
	d.Headline.Title = plainText(d.Headline.Title)
	d.Headline.Source = plainText(d.Headline.Source)
	d.Headline.Date = plainText(d.Headline.Date)
	return d
}

func sanitizeNews(n NewsItem) NewsItem {
	n.Category = plainText(n.Category)
	n.Title = plainText(n.Title)
	n.Summary = plainText(n.Summary)
	n.Date = plainText(n.Date)
	n.AgentQuery = plainText(n.AgentQuery)
	return n
}

func homePrompt(today string) string {
	return "今天是" + today + `。请返回一个合法JSON对象，不要有任何说明文字，只返回JSON：
{
  "topic": {
    "title": "一个基于近期热点、适合初中生讨论的思辨话题，20字以内",
    "hint": "提示从哪些角度思考，30字以内，以“提示：”开头",
    "tags": ["标签1", "标签2", "标签3"]
  },
  "headline": {
    "title": "今天中国最重要的一条新闻标题，30字以内",
    "source": "媒体来源名称",
    "date": "发布日期，格式 YYYY-MM-DD"
  }
}`
}

func newsPrompt(today string) string {
	return "今天是" + today + `。请返回一个合法JSON数组，包含6条近期（最近两周内）重要新闻，适合初中生关注，覆盖教育、科技、社会、环境、文化、时政不同领域，每个领域各一条。只返回JSON数组，不要有任何说明文字：
[
  {
    "id": 1,
    "category": "教育",
    "title": "新闻标题，30字以内",
    "summary": "两句话摘要，60字以内",
    "date": "发布日期，格式 YYYY-MM-DD",
    "hot": true,
    "agentQuery": "一个适合请语文AI老师解读此新闻的问题，用于写作练习"
  }
]`
}
