//go:build swagger

package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/wfunc/latchctl/docs/swagger"
)

// registerSwaggerRoutes 注册 gin-swagger 页面（仅在 -tags swagger 时启用）
// 文档由 swag init 生成到 docs/swagger
func registerSwaggerRoutes(engine *gin.Engine) {
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(
		swaggerFiles.Handler,
		ginSwagger.InstanceName(swagger.SwaggerInfo.InstanceName()),
		ginSwagger.DocExpansion("none"),
	))
}
