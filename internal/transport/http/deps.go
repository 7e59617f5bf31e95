package http

import (
	"github.com/aurax-platform/identity-api/internal/infrastructure/dynamo"
	"github.com/aurax-platform/identity-api/internal/infrastructure/instagram"
	jwtinfra "github.com/aurax-platform/identity-api/internal/infrastructure/jwt"
	s3infra "github.com/aurax-platform/identity-api/internal/infrastructure/s3"
	"github.com/aurax-platform/identity-api/internal/infrastructure/smtp"
	"github.com/aurax-platform/identity-api/internal/infrastructure/sns"
	"github.com/aurax-platform/identity-api/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps holds all infrastructure dependencies for the router. Ops, AvatarStore
// and JWTProvider are optional; the router degrades accordingly.
type Deps struct {
	UserRepo    *dynamo.UserRepo
	OTPRepo     *dynamo.OTPRepo
	AvatarStore *s3infra.Store
	Mailer      smtp.Mailer
	Ops         sns.OpsPublisher
	JWTProvider *jwtinfra.Provider
	Instagram   *instagram.Client
	Metrics     metrics.Collector
	Registry    *prometheus.Registry
}
