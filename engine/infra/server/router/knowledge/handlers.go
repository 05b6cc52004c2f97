package knowledgerouter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/compozy/ragpipe/engine/infra/server/appstate"
	"github.com/compozy/ragpipe/engine/infra/server/router"
	"github.com/compozy/ragpipe/engine/knowledge/ingest"
	"github.com/compozy/ragpipe/engine/uploads"
)

const (
	defaultSimilarK = 5
	formFileField   = "file"
)

func servicesFrom(c *gin.Context) (appstate.Services, bool) {
	state, err := appstate.GetState(c.Request.Context())
	if err != nil {
		router.RespondProblemWithCode(
			c,
			http.StatusInternalServerError,
			router.ErrInternalCode,
			"application state not initialized",
		)
		return nil, false
	}
	return state.Services, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			router.RespondError(c, err)
			return false
		}
		router.RespondProblemWithCode(c, http.StatusBadRequest, router.ErrBadRequestCode, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// uploadDocument handles POST /documents.
//
// @Summary Upload and ingest a document
// @Description Stores a multipart file in the upload directory and ingests it.
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Document (.pdf, .txt, .md, .markdown)"
// @Success 201 {object} router.Response{data=app.UploadResult} "Document stored and indexed"
// @Success 200 {object} router.Response{data=app.UploadResult} "Document stored, content already indexed"
// @Failure 400 {object} router.ProblemDocument "Missing or invalid file"
// @Failure 413 {object} router.ProblemDocument "File too large"
// @Failure 415 {object} router.ProblemDocument "Unsupported format"
// @Failure 422 {object} router.Response{data=app.UploadResult} "Document stored but ingestion failed"
// @Router /documents [post]
func uploadDocument(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	header, err := c.FormFile(formFileField)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			router.RespondError(c, err)
			return
		}
		router.RespondProblemWithCode(
			c,
			http.StatusBadRequest,
			router.ErrBadRequestCode,
			fmt.Sprintf("multipart field %q is required", formFileField),
		)
		return
	}
	file, err := header.Open()
	if err != nil {
		router.RespondError(c, err)
		return
	}
	defer file.Close()
	res, err := svc.Upload(c.Request.Context(), header.Filename, file)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	switch res.Ingest.Status {
	case ingest.StatusAdded:
		router.RespondCreated(c, "document uploaded and indexed", res)
	case ingest.StatusDuplicate:
		router.RespondOK(c, "document uploaded, content already indexed", res)
	default:
		router.RespondWithStatus(c, http.StatusUnprocessableEntity, res.Ingest.Message(), res)
	}
}

// ingestPaths handles POST /documents/ingest.
//
// @Summary Ingest server side paths
// @Description Ingests files, directories and glob patterns readable by the server.
// @Tags documents
// @Accept json
// @Produce json
// @Param payload body knowledgerouter.IngestRequest true "Paths to ingest"
// @Success 200 {object} router.Response{data=ingest.Report} "Ingestion report"
// @Failure 400 {object} router.ProblemDocument "Invalid paths"
// @Router /documents/ingest [post]
func ingestPaths(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	var req IngestRequest
	if !bindJSON(c, &req) {
		return
	}
	report, err := svc.IngestPaths(c.Request.Context(), req.Paths)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	router.RespondOK(c, fmt.Sprintf("%d added, %d duplicate, %d failed", report.Added, report.Duplicates, report.Failed), report)
}

// listDocuments handles GET /documents.
//
// @Summary List indexed documents
// @Tags documents
// @Produce json
// @Success 200 {object} router.Response{data=knowledgerouter.DocumentListResponse} "Documents retrieved"
// @Failure 502 {object} router.ProblemDocument "Vector store unavailable"
// @Router /documents [get]
func listDocuments(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	docs, err := svc.Documents(c.Request.Context())
	if err != nil {
		router.RespondError(c, err)
		return
	}
	router.RespondOK(c, "documents retrieved", DocumentListResponse{Documents: docs, Total: len(docs)})
}

// deleteDocument handles DELETE /documents/{hash}.
//
// @Summary Delete a document
// @Description Removes every chunk of the document with the given content hash.
// @Tags documents
// @Produce json
// @Param hash path string true "Content hash" example("9f86d081884c7d65")
// @Success 200 {object} router.Response{data=knowledgerouter.DeleteResponse} "Document deleted"
// @Failure 404 {object} router.ProblemDocument "Document not found"
// @Router /documents/{hash} [delete]
func deleteDocument(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	hash := strings.TrimSpace(c.Param("hash"))
	n, err := svc.DeleteDocument(c.Request.Context(), hash)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	router.RespondOK(c, "document deleted", DeleteResponse{Hash: hash, ChunksDeleted: n})
}

// search handles POST /search.
//
// @Summary Similarity search
// @Tags retrieval
// @Accept json
// @Produce json
// @Param payload body knowledgerouter.SearchRequest true "Query"
// @Success 200 {object} router.Response{data=knowledgerouter.SearchResponse} "Results by ascending distance"
// @Failure 400 {object} router.ProblemDocument "Invalid query"
// @Failure 503 {object} router.ProblemDocument "Embedding backend unavailable"
// @Router /search [post]
func search(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	var req SearchRequest
	if !bindJSON(c, &req) {
		return
	}
	results, err := svc.Search(c.Request.Context(), req.Query, req.K, req.Filter)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	router.RespondOK(c, "search completed", SearchResponse{Query: req.Query, Results: results})
}

// retrieve handles POST /retrieve. Unlike search, results below the
// similarity threshold are dropped.
func retrieve(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	var req SearchRequest
	if !bindJSON(c, &req) {
		return
	}
	contexts, err := svc.Retrieve(c.Request.Context(), req.Query, req.K, req.Filter)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	router.RespondOK(c, "contexts retrieved", RetrieveResponse{Query: req.Query, Contexts: contexts})
}

// similarChunks handles GET /chunks/{id}/similar.
//
// @Summary Chunks similar to a stored chunk
// @Tags retrieval
// @Produce json
// @Param id path string true "Chunk id" example("9f86d081884c7d65_0")
// @Param k query int false "Result count (max 100)" example(5)
// @Success 200 {object} router.Response{data=knowledgerouter.SimilarResponse} "Similar chunks"
// @Failure 404 {object} router.ProblemDocument "Chunk not found"
// @Router /chunks/{id}/similar [get]
func similarChunks(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	id := c.Param("id")
	results, err := svc.FindSimilar(c.Request.Context(), id, router.QueryLimit(c, defaultSimilarK))
	if err != nil {
		router.RespondError(c, err)
		return
	}
	router.RespondOK(c, "similar chunks retrieved", SimilarResponse{ChunkID: id, Results: results})
}

// getStats handles GET /stats.
//
// @Summary Collection statistics
// @Tags documents
// @Produce json
// @Success 200 {object} router.Response{data=index.Stats} "Statistics"
// @Router /stats [get]
func getStats(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	stats, err := svc.Stats(c.Request.Context())
	if err != nil {
		router.RespondError(c, err)
		return
	}
	router.RespondOK(c, "stats retrieved", stats)
}

// resetCollection handles POST /reset. The body must confirm the reset.
func resetCollection(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	var req ResetRequest
	if !bindJSON(c, &req) {
		return
	}
	if !req.Confirm {
		router.RespondProblemWithCode(
			c,
			http.StatusBadRequest,
			router.ErrBadRequestCode,
			`reset removes every document; send {"confirm": true}`,
		)
		return
	}
	if err := svc.Reset(c.Request.Context()); err != nil {
		router.RespondError(c, err)
		return
	}
	router.RespondOK(c, "collection reset", nil)
}

func listUploads(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	files, err := svc.ListUploads(c.Request.Context())
	if err != nil {
		router.RespondError(c, err)
		return
	}
	var total int64
	for i := range files {
		total += files[i].Size
	}
	router.RespondOK(c, "uploads retrieved", UploadListResponse{
		Files:     files,
		Total:     len(files),
		TotalSize: uploads.FormatSize(total),
	})
}

// deleteUpload removes a stored file. Indexed chunks are kept; use
// DELETE /documents/{hash} for those.
func deleteUpload(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	name := c.Param("name")
	if err := svc.DeleteUpload(c.Request.Context(), name); err != nil {
		router.RespondError(c, err)
		return
	}
	router.RespondOK(c, "upload deleted", gin.H{"name": name})
}
