package feeds

import (
	"context"
	"log/slog"
)

// HomeFeed is the home feed as served, flagged when it is the static
// fallback.
type HomeFeed struct {
	HomeData
	Fallback bool `json:"fallback"`
}

// NewsFeed is the news list as served.
type NewsFeed struct {
	Items    []NewsItem `json:"items"`
	Fallback bool       `json:"fallback"`
}

// Service serves feeds that never fail: any loader error is logged and
// replaced by the static dataset.
type Service struct {
	loader *Loader
	logger *slog.Logger
}

// NewService wraps loader. A nil loader (no API key configured) always
// serves the fallbacks.
func NewService(loader *Loader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{loader: loader, logger: logger.With("component", "feeds")}
}

// Home returns today's home feed or the fallback.
func (s *Service) Home(ctx context.Context) HomeFeed {
	if s.loader == nil {
		return HomeFeed{HomeData: FallbackHome(), Fallback: true}
	}
	data, err := s.loader.LoadHome(ctx)
	if err != nil {
		s.logger.Warn("home feed unavailable, serving fallback", "error", err)
		return HomeFeed{HomeData: FallbackHome(), Fallback: true}
	}
	return HomeFeed{HomeData: data}
}

// News returns today's news list or the fallback. An empty list from
// the model also falls back.
func (s *Service) News(ctx context.Context) NewsFeed {
	if s.loader == nil {
		return NewsFeed{Items: FallbackNews(), Fallback: true}
	}
	items, err := s.loader.LoadNews(ctx)
	if err != nil {
		s.logger.Warn("news feed unavailable, serving fallback", "error", err)
		return NewsFeed{Items: FallbackNews(), Fallback: true}
	}
	if len(items) == 0 {
		s.logger.Warn("news feed empty, serving fallback")
		return NewsFeed{Items: FallbackNews(), Fallback: true}
	}
	return NewsFeed{Items: items}
}

// FallbackHome is the static home feed.
func FallbackHome() HomeData {
	return HomeData{
		Topic: Topic{
			Title: "在信息爆炸的时代，“慢阅读”还有价值吗？",
			Hint:  "提示：可以从“深度 vs 碎片”、“专注力”等角度切入",
			Tags:  []string{"思辨", "语文", "时政"},
		},
		Headline: Headline{
			Title:  "教育部发布新课标：跨学科主题学习将占课时10%以上",
			Source: "人民教育",
			Date:   "今日",
		},
	}
}

// FallbackNews is the static six-item news list.
func FallbackNews() []NewsItem {
	return []NewsItem{
		{ID: 1, Category: "教育", Title: "教育部：2025年起高中跨学科主题学习课时不低于10%", Summary: "新课标要求各学科设置跨学科主题学习活动，强化知识整合与实践能力培养。", Date: "2024-12-18", Hot: true, AgentQuery: "请帮我分析跨学科学习对高中生的影响，以及如何在学习中落实？"},
		{ID: 2, Category: "科技", Title: "DeepSeek R1 开源发布，国产大模型首次登顶全球排行", Summary: "深度求索发布R1推理模型，性能比肩GPT-4o，完全开源免费可商用，引发全球关注。", Date: "2025-01-20", Hot: true, AgentQuery: "请从语文写作角度帮我分析DeepSeek事件的评论要点"},
		{ID: 3, Category: "社会", Title: "2025年春节假期延长至8天，“世界非遗”春节申遗成功", Summary: "联合国教科文组织正式将“春节——中国人庆祝传统新年的社会实践”列入非遗名录。", Date: "2024-12-05", AgentQuery: "以“春节申遗成功”为话题，帮我构思一篇时评的论点和论据"},
		{ID: 4, Category: "环境", Title: "全球气温连续12个月突破1.5°C气候警戒线", Summary: "欧洲气候变化服务机构确认，2024年成为有记录以来最热年份，全年平均气温超历史记录。", Date: "2025-01-10", AgentQuery: "气候变化话题的思辨写作如何立意？帮我列举几个有深度的论点"},
		{ID: 5, Category: "文化", Title: "北京故宫《千里江山图》特展观众突破50万人次", Summary: "故宫博物院数字化与实体展览并行，引发年轻群体对传统文化的广泛讨论。", Date: "2024-11-28", AgentQuery: "《千里江山图》的艺术价值和文化意义是什么？帮我分析一下"},
		{ID: 6, Category: "时政", Title: "中国城镇化率突破67%，乡村振兴进入攻坚阶段", Summary: "国家统计局数据显示，城乡居民收入差距继续缩小，农村基础设施建设投入创历史新高。", Date: "2025-01-17", AgentQuery: "城镇化与乡村振兴的辩证关系是什么？帮我梳理论点用于写作"},
	}
}
