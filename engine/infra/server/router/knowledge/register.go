package knowledgerouter

import (
	"github.com/gin-gonic/gin"

	"github.com/compozy/ragpipe/engine/infra/server/middleware/size"
)

// multipartOverhead leaves room for form boundaries and headers on top of
// the largest accepted file.
const multipartOverhead = 1 << 20

// Register mounts the document and retrieval routes on apiBase. maxUpload
// caps request bodies of the upload route.
func Register(apiBase *gin.RouterGroup, maxUpload int64) {
	documents := apiBase.Group("/documents")
	{
		documents.GET("", listDocuments)
		documents.POST("", size.BodySizeLimiter(maxUpload+multipartOverhead), uploadDocument)
		documents.POST("/ingest", size.BodySizeLimiter(size.DefaultJSONLimit), ingestPaths)
		documents.DELETE("/:hash", deleteDocument)
	}
	uploadsGroup := apiBase.Group("/uploads")
	{
		uploadsGroup.GET("", listUploads)
		uploadsGroup.DELETE("/:name", deleteUpload)
	}
	bodies := apiBase.Group("", size.BodySizeLimiter(size.DefaultJSONLimit))
	bodies.POST("/search", search)
	bodies.POST("/retrieve", retrieve)
	bodies.POST("/ask", ask)
	bodies.POST("/reset", resetCollection)
	apiBase.GET("/chunks/:id/similar", similarChunks)
	apiBase.GET("/stats", getStats)
}
