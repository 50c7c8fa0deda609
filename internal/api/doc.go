// Package api exposes the workflow manager over HTTP.
//
// Generation requests become jobs of the admission controller, job state and
// live logs are read back from it, and the files the workers produce can be
// listed, read, edited, uploaded and deleted through the artifact store.
//
// Routes:
//
//	GET    /health
//	POST   /api/brand-data/generate
//	POST   /api/briefs/generate            POST /api/briefs/generate/batch
//	POST   /api/drafts/generate            POST /api/drafts/generate/batch
//	GET    /api/jobs?status=               GET  /api/jobs/{id}
//	GET    /api/jobs/{id}/logs             (text/event-stream)
//	GET    /api/{collection}               GET  /api/{collection}/{filename}
//	POST   /api/{collection}/upload        PUT  /api/{collection}/save
//	DELETE /api/{collection}/{filename}
//
// where collection is one of brand-data, briefs and drafts.
package api
