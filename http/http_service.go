package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/thesimplekid/cashu-lsp/api"
	"github.com/thesimplekid/cashu-lsp/config"
	"github.com/thesimplekid/cashu-lsp/events"
	"github.com/thesimplekid/cashu-lsp/logger"
	"github.com/thesimplekid/cashu-lsp/nut18"
	"github.com/thesimplekid/cashu-lsp/payments"
	"github.com/thesimplekid/cashu-lsp/policy"
	"github.com/thesimplekid/cashu-lsp/quotes"
	"github.com/thesimplekid/cashu-lsp/service"
)

type jwtCustomClaims struct {
	jwt.RegisteredClaims
}

type HttpService struct {
	api            api.API
	cfg            config.Config
	quotesSvc      quotes.QuotesService
	processor      payments.Processor
	eventPublisher events.EventPublisher
}

func NewHttpService(svc service.Service, eventPublisher events.EventPublisher) *HttpService {
	return &HttpService{
		api: api.NewAPI(
			svc.GetDB(),
			svc.GetConfig(),
			svc.GetEvaluator(),
			svc.GetQuotesService(),
			svc.GetLNClient(),
			eventPublisher,
		),
		cfg:            svc.GetConfig(),
		quotesSvc:      svc.GetQuotesService(),
		processor:      svc.GetPaymentProcessor(),
		eventPublisher: eventPublisher,
	}
}

func (httpSvc *HttpService) RegisterSharedRoutes(e *echo.Echo) {
	e.HideBanner = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, values middleware.RequestLoggerValues) error {
			logger.HttpLogger.Info().
				Str("uri", values.URI).
				Int("status", values.Status).
				Str("remote_ip", values.RemoteIP).
				Str("request_id", values.RequestID).
				Msg("handled API request")
			return nil
		},
	}))

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/api/v1/info", httpSvc.infoHandler)
	e.POST("/api/v1/channel-quote", httpSvc.createQuoteHandler)
	e.POST("/api/v1/payment", httpSvc.paymentHandler)
	e.GET("/api/v1/quote/:id", httpSvc.getQuoteHandler)

	// one auth attempt per second
	authRateLimiter := middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(1))
	e.POST("/api/auth", httpSvc.authHandler, authRateLimiter)

	jwtConfig := echojwt.Config{
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(jwtCustomClaims)
		},
		KeyFunc: func(token *jwt.Token) (interface{}, error) {
			secret, err := httpSvc.cfg.GetJWTSecret()
			if err != nil {
				return nil, err
			}
			return []byte(secret), nil
		},
		TokenLookup: "header:Authorization:Bearer ",
	}

	adminGroup := e.Group("/api/admin")
	adminGroup.Use(echojwt.WithConfig(jwtConfig))

	adminGroup.GET("/node/info", httpSvc.nodeInfoHandler)
	adminGroup.POST("/node/address", httpSvc.newAddressHandler)
	adminGroup.GET("/channels", httpSvc.listChannelsHandler)
	adminGroup.POST("/channels/open", httpSvc.openChannelHandler)
	adminGroup.POST("/channels/close", httpSvc.closeChannelHandler)
	adminGroup.GET("/balances", httpSvc.balancesHandler)
	adminGroup.POST("/onchain/send", httpSvc.sendOnchainHandler)
	adminGroup.GET("/quotes", httpSvc.listQuotesHandler)
}

func (httpSvc *HttpService) infoHandler(c echo.Context) error {
	responseBody, err := httpSvc.api.GetInfo(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, responseBody)
}

func (httpSvc *HttpService) createQuoteHandler(c echo.Context) error {
	var createQuoteRequest quotes.CreateQuoteRequest
	if err := c.Bind(&createQuoteRequest); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("Bad request: %s", err.Error()),
		})
	}

	if createQuoteRequest.NodePubkey == "" || createQuoteRequest.Address == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "node_pubkey and address are required",
		})
	}

	responseBody, err := httpSvc.api.CreateQuote(c.Request().Context(), &createQuoteRequest)
	if err != nil {
		if errors.Is(err, policy.ErrPolicyViolation) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: err.Error(),
			})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: fmt.Sprintf("Failed to create quote: %s", err.Error()),
		})
	}

	return c.JSON(http.StatusOK, responseBody)
}

// paymentHandler receives a NUT-18 payment payload, verifies the proofs and
// feeds the resulting settlement into the quote state machine.
func (httpSvc *HttpService) paymentHandler(c echo.Context) error {
	var payload nut18.PaymentRequestPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("Bad request: %s", err.Error()),
		})
	}

	ctx := c.Request().Context()

	settlement, err := httpSvc.processor.VerifyPayment(ctx, &payload)
	if err != nil {
		logger.Logger.Warn().Err(err).
			Str("reference", payload.Id).
			Msg("Rejected payment payload")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("Payment rejected: %s", err.Error()),
		})
	}

	if err := httpSvc.quotesSvc.HandleSettlement(ctx, settlement); err != nil {
		if errors.Is(err, quotes.ErrUnknownReference) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Message: err.Error(),
			})
		}
		if errors.Is(err, quotes.ErrInsufficientPayment) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: err.Error(),
			})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: fmt.Sprintf("Failed to process payment: %s", err.Error()),
		})
	}

	return c.NoContent(http.StatusOK)
}

func (httpSvc *HttpService) getQuoteHandler(c echo.Context) error {
	responseBody, err := httpSvc.api.GetQuote(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, quotes.ErrQuoteNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Message: "Quote not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, responseBody)
}

func (httpSvc *HttpService) authHandler(c echo.Context) error {
	var request authRequest
	if err := c.Bind(&request); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("Bad request: %s", err.Error()),
		})
	}

	if !httpSvc.cfg.CheckAdminToken(request.Token) {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "Invalid admin token",
		})
	}

	token, err := httpSvc.createJWT(request.TokenExpiryDays)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: fmt.Sprintf("Failed to create session: %s", err.Error()),
		})
	}

	return c.JSON(http.StatusOK, &authTokenResponse{
		Token: token,
	})
}

func (httpSvc *HttpService) createJWT(tokenExpiryDays *uint64) (string, error) {
	expiryDays := uint64(30)
	if tokenExpiryDays != nil {
		expiryDays = *tokenExpiryDays
	}

	claims := &jwtCustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 24 * time.Duration(expiryDays))),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if token == nil {
		return "", errors.New("failed to create token")
	}

	secret, err := httpSvc.cfg.GetJWTSecret()
	if err != nil {
		return "", err
	}

	return token.SignedString([]byte(secret))
}

func (httpSvc *HttpService) nodeInfoHandler(c echo.Context) error {
	info, err := httpSvc.api.GetNodeInfo(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, info)
}

func (httpSvc *HttpService) newAddressHandler(c echo.Context) error {
	address, err := httpSvc.api.GetNewAddress(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: fmt.Sprintf("Failed to request new onchain address: %s", err.Error()),
		})
	}

	return c.JSON(http.StatusOK, address)
}

func (httpSvc *HttpService) listChannelsHandler(c echo.Context) error {
	channels, err := httpSvc.api.ListChannels(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, channels)
}

func (httpSvc *HttpService) openChannelHandler(c echo.Context) error {
	var openChannelRequest api.OpenChannelRequest
	if err := c.Bind(&openChannelRequest); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("Bad request: %s", err.Error()),
		})
	}

	openChannelResponse, err := httpSvc.api.OpenChannel(c.Request().Context(), &openChannelRequest)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: fmt.Sprintf("Failed to open channel: %s", err.Error()),
		})
	}

	return c.JSON(http.StatusOK, openChannelResponse)
}

func (httpSvc *HttpService) closeChannelHandler(c echo.Context) error {
	var closeChannelRequest api.CloseChannelRequest
	if err := c.Bind(&closeChannelRequest); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("Bad request: %s", err.Error()),
		})
	}

	err := httpSvc.api.CloseChannel(c.Request().Context(), &closeChannelRequest)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: fmt.Sprintf("Failed to close channel: %s", err.Error()),
		})
	}

	return c.NoContent(http.StatusNoContent)
}

func (httpSvc *HttpService) balancesHandler(c echo.Context) error {
	balances, err := httpSvc.api.GetBalances(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, balances)
}

func (httpSvc *HttpService) sendOnchainHandler(c echo.Context) error {
	var sendOnchainRequest api.SendOnchainRequest
	if err := c.Bind(&sendOnchainRequest); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("Bad request: %s", err.Error()),
		})
	}

	sendOnchainResponse, err := httpSvc.api.SendOnchain(c.Request().Context(), &sendOnchainRequest)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: fmt.Sprintf("Failed to send onchain funds: %s", err.Error()),
		})
	}

	return c.JSON(http.StatusOK, sendOnchainResponse)
}

func (httpSvc *HttpService) listQuotesHandler(c echo.Context) error {
	limit := uint64(0)
	offset := uint64(0)

	if limitParam := c.QueryParam("limit"); limitParam != "" {
		if parsedLimit, err := strconv.ParseUint(limitParam, 10, 64); err == nil {
			limit = parsedLimit
		}
	}

	if offsetParam := c.QueryParam("offset"); offsetParam != "" {
		if parsedOffset, err := strconv.ParseUint(offsetParam, 10, 64); err == nil {
			offset = parsedOffset
		}
	}

	quotesResponse, err := httpSvc.api.ListQuotes(c.Request().Context(), limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, quotesResponse)
}
