package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/dedesp/PancongKeceApp-sub001/models"
	"github.com/dedesp/PancongKeceApp-sub001/utils"
)

const defaultPort = "8080"

// app holds the long-lived engine pieces. The resolver is an immutable
// snapshot of the catalog; catalog mutations swap in a fresh one under the
// write lock.
type app struct {
	mu       sync.RWMutex
	ledger   *models.StockLedger
	resolver *models.RecipeResolver
}

func (a *app) ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ledger != nil && a.resolver != nil
}

func (a *app) getLedger() *models.StockLedger {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ledger
}

func (a *app) getResolver() *models.RecipeResolver {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resolver
}

func (a *app) init(ctx context.Context, policy models.NegativeStockPolicy) error {
	converter, err := models.LoadUnitConverter(ctx)
	if err != nil {
		return err
	}
	resolver, err := models.LoadRecipeResolver(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.ledger = models.NewStockLedger(policy, converter)
	a.resolver = resolver
	a.mu.Unlock()
	return nil
}

// reloadResolver rebuilds the catalog snapshot after a mutation. The ledger
// keeps its policy but picks up the fresh converter so new conversion rules
// take effect.
func (a *app) reloadResolver(ctx context.Context, policy models.NegativeStockPolicy) error {
	return a.init(ctx, policy)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		for _, ginErr := range c.Errors {
			logger.WithFields(logrus.Fields{
				"field":  "http",
				"path":   c.Request.URL.Path,
				"status": c.Writer.Status(),
			}).Error(ginErr.Error())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func abortWithError(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func (a *app) stockStatusHandler(c *gin.Context) {
	entries, err := models.GetStockStatus(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	outOfStock, lowStock := 0, 0
	for _, entry := range entries {
		switch entry.Status {
		case models.StockStatusOutOfStock:
			outOfStock++
		case models.StockStatusLowStock:
			lowStock++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": gin.H{
			"total":        len(entries),
			"out_of_stock": outOfStock,
			"low_stock":    lowStock,
		},
		"materials": entries,
	})
}

func (a *app) stockMovementsHandler(c *gin.Context) {
	materialId, _ := strconv.Atoi(c.Query("raw_material_id"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	movements, err := models.GetStockMovements(c.Request.Context(), materialId, limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements})
}

type adjustStockRequest struct {
	RawMaterialId   int             `json:"raw_material_id" binding:"required"`
	CountedQuantity decimal.Decimal `json:"counted_quantity"`
	Notes           string          `json:"notes"`
}

func (a *app) adjustStockHandler(c *gin.Context) {
	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	actor, _ := utils.GetUsernameFromContext(c.Request.Context())
	movement, err := a.getLedger().Adjust(c.Request.Context(), req.RawMaterialId, req.CountedQuantity, req.Notes, actor)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movement": movement})
}

type replenishStockRequest struct {
	RawMaterialId int             `json:"raw_material_id" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity" binding:"required"`
	Unit          string          `json:"unit" binding:"required"`
	ReferenceId   string          `json:"reference_id"`
	Notes         string          `json:"notes"`
}

func (a *app) replenishStockHandler(c *gin.Context) {
	var req replenishStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if req.ReferenceId == "" {
		req.ReferenceId = uuid.NewString()
	}
	actor, _ := utils.GetUsernameFromContext(c.Request.Context())
	movement, err := a.getLedger().Replenish(c.Request.Context(), req.RawMaterialId, req.Quantity, req.Unit,
		models.StockReferenceTypePurchase, req.ReferenceId, req.Notes, actor)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movement": movement})
}

type wasteStockRequest struct {
	RawMaterialId int             `json:"raw_material_id" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity" binding:"required"`
	Unit          string          `json:"unit" binding:"required"`
	Notes         string          `json:"notes"`
}

func (a *app) wasteStockHandler(c *gin.Context) {
	var req wasteStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	actor, _ := utils.GetUsernameFromContext(c.Request.Context())
	movement, err := a.getLedger().RecordWaste(c.Request.Context(), req.RawMaterialId, req.Quantity, req.Unit, req.Notes, actor)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movement": movement})
}

func (a *app) createSaleHandler(c *gin.Context) {
	var input models.SellProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	result, err := models.ProcessSale(c.Request.Context(), a.getLedger(), a.getResolver(), &input)
	if err != nil {
		if errors.Is(err, models.ErrorMissingComposition) ||
			errors.Is(err, models.ErrorCyclicComposition) ||
			errors.Is(err, models.ErrorNoConversionRule) {
			abortWithError(c, http.StatusUnprocessableEntity, err)
			return
		}
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if len(result.Shortages) > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient stock", "shortages": result.Shortages})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": result.Transaction})
}

func (a *app) productCompositionHandler(c *gin.Context) {
	productId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	requirements, err := a.getResolver().Resolve(productId)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requirements": requirements})
}

func (a *app) productCostHandler(c *gin.Context) {
	productId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	engine := models.NewCostEngine(a.getResolver())
	cost, err := engine.ComputeProductCost(productId)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err)
		return
	}
	margin, err := engine.ComputeProductMargin(productId)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cost": cost, "margin": margin})
}

type checkoutRequest struct {
	Subtotal decimal.Decimal `json:"subtotal" binding:"required"`
}

func (a *app) checkoutCalculateHandler(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	checkout, err := models.CalculateCheckoutTotal(c.Request.Context(), req.Subtotal)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, checkout)
}

func (a *app) potentialSalesHandler(c *gin.Context) {
	productId, err := strconv.Atoi(c.Query("product_id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, errors.New("product_id is required"))
		return
	}
	estimate, err := models.EstimatePotentialSales(c.Request.Context(), a.getResolver(), productId)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

func (a *app) mutateCatalog(c *gin.Context, policy models.NegativeStockPolicy, status int, key string, run func(ctx context.Context) (any, error)) {
	payload, err := run(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err)
		return
	}
	if err := a.reloadResolver(c.Request.Context(), policy); err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(status, gin.H{key: payload})
}

func searchParam(c *gin.Context) *string {
	if s := c.Query("search"); s != "" {
		return &s
	}
	return nil
}

func (a *app) listMaterialsHandler(c *gin.Context) {
	materials, err := models.GetRawMaterials(c.Request.Context(), searchParam(c))
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"materials": materials})
}

func (a *app) listProductsHandler(c *gin.Context) {
	products, err := models.GetRecipeProducts(c.Request.Context(), searchParam(c))
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (a *app) listTaxSettingsHandler(c *gin.Context) {
	settings, err := models.GetTaxSettings(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (a *app) createTaxSettingHandler(c *gin.Context) {
	var input models.NewTaxSetting
	if err := c.ShouldBindJSON(&input); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	setting, err := models.CreateTaxSetting(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"setting": setting})
}

func (a *app) saveRoundingSettingHandler(c *gin.Context) {
	var setting models.RoundingSetting
	if err := c.ShouldBindJSON(&setting); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	saved, err := models.SaveRoundingSetting(c.Request.Context(), &setting)
	if err != nil {
		abortWithError(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"setting": saved})
}

func (a *app) lowStockAlertsHandler(c *gin.Context) {
	alerts, err := models.GetLowStockAlerts(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Teach the binding validator to treat decimals as numbers, so required
	// and gt tags work on quantity fields.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
	}

	policy, err := models.ParseNegativeStockPolicy(os.Getenv("NEGATIVE_STOCK_POLICY"))
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "config"}).Panic(err.Error())
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	a := &app{}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if username := c.GetHeader("x-username"); username != "" {
			c.Request = c.Request.WithContext(utils.SetUsernameInContext(c.Request.Context(), username))
		}
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil || !a.ready() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/stock/status", a.stockStatusHandler)
	api.GET("/stock/movements", a.stockMovementsHandler)
	api.GET("/stock/alerts", a.lowStockAlertsHandler)
	api.GET("/stock/potential-sales", a.potentialSalesHandler)
	api.POST("/stock/adjust", a.adjustStockHandler)
	api.POST("/stock/replenish", a.replenishStockHandler)
	api.POST("/stock/waste", a.wasteStockHandler)
	api.POST("/sales", a.createSaleHandler)
	api.GET("/products/:id/composition", a.productCompositionHandler)
	api.GET("/products/:id/cost", a.productCostHandler)
	api.POST("/checkout/calculate", a.checkoutCalculateHandler)
	api.GET("/materials", a.listMaterialsHandler)
	api.POST("/materials", func(c *gin.Context) {
		var input models.NewRawMaterial
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		a.mutateCatalog(c, policy, http.StatusCreated, "material", func(ctx context.Context) (any, error) {
			return models.CreateRawMaterial(ctx, &input)
		})
	})
	api.GET("/products", a.listProductsHandler)
	api.POST("/products", func(c *gin.Context) {
		var input models.NewRecipeProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		a.mutateCatalog(c, policy, http.StatusCreated, "product", func(ctx context.Context) (any, error) {
			return models.CreateRecipeProduct(ctx, &input)
		})
	})
	api.POST("/compositions", func(c *gin.Context) {
		var input models.NewCompositionEdge
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		a.mutateCatalog(c, policy, http.StatusCreated, "composition", func(ctx context.Context) (any, error) {
			return models.CreateCompositionEdge(ctx, &input)
		})
	})
	api.POST("/conversions", func(c *gin.Context) {
		var input models.NewUnitConversionRule
		if err := c.ShouldBindJSON(&input); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		a.mutateCatalog(c, policy, http.StatusCreated, "rule", func(ctx context.Context) (any, error) {
			return models.CreateUnitConversionRule(ctx, &input)
		})
	})
	api.GET("/tax-settings", a.listTaxSettingsHandler)
	api.POST("/tax-settings", a.createTaxSettingHandler)
	api.POST("/rounding-setting", a.saveRoundingSettingHandler)

	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedis()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBoot()
	if err := a.init(bootCtx, policy); err != nil {
		logger.WithFields(logrus.Fields{"field": "composition graph"}).Panic(err.Error())
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
