package api

import "net/http"

func (s *Server) handleHomeFeed(w http.ResponseWriter, r *http.Request) {
	feed := s.feeds.Home(r.Context())
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, feed, s.logger)
}

func (s *Server) handleNewsFeed(w http.ResponseWriter, r *http.Request) {
	feed := s.feeds.News(r.Context())
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, feed, s.logger)
}
