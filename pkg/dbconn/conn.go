// Package dbconn contains a series of database-related utility functions.
package dbconn

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
)

const (
	customTLSConfigName   = "custom"
	requiredTLSConfigName = "required"
	verifyCATLSConfigName = "verify_ca"
	verifyIDTLSConfigName = "verify_identity"
	maxIdleConns          = 10
)

var tlsRegisterOnce sync.Map // configName -> struct{}, guards mysql.RegisterTLSConfig

// NewCustomTLSConfig creates a TLS config based on SSL mode and certificate data.
func NewCustomTLSConfig(certData []byte, sslMode string) *tls.Config {
	var caCertPool *x509.CertPool
	if len(certData) > 0 {
		caCertPool = x509.NewCertPool()
		caCertPool.AppendCertsFromPEM(certData)
	}

	switch strings.ToUpper(sslMode) {
	case "DISABLED":
		return nil
	case "PREFERRED":
		return &tls.Config{InsecureSkipVerify: true}
	case "REQUIRED":
		return &tls.Config{RootCAs: caCertPool, InsecureSkipVerify: true}
	case "VERIFY_CA":
		return &tls.Config{
			RootCAs:            caCertPool,
			InsecureSkipVerify: true,
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return errors.New("no certificates provided")
				}
				var certs []*x509.Certificate
				for _, rawCert := range rawCerts {
					cert, err := x509.ParseCertificate(rawCert)
					if err != nil {
						return fmt.Errorf("failed to parse certificate: %w", err)
					}
					certs = append(certs, cert)
				}
				intermediates := x509.NewCertPool()
				for _, cert := range certs[1:] {
					intermediates.AddCert(cert)
				}
				opts := x509.VerifyOptions{Roots: caCertPool, Intermediates: intermediates}
				_, err := certs[0].Verify(opts)
				if err != nil {
					return fmt.Errorf("certificate verification failed: %w", err)
				}
				return nil
			},
		}
	case "VERIFY_IDENTITY":
		return &tls.Config{RootCAs: caCertPool, InsecureSkipVerify: false}
	default:
		return &tls.Config{InsecureSkipVerify: true}
	}
}

// LoadCertificateFromFile loads certificate data from a file.
func LoadCertificateFromFile(filePath string) ([]byte, error) {
	return os.ReadFile(filePath)
}

func initCustomTLS(config *DBConfig) error {
	var certData []byte
	var err error
	if config.TLSCertificatePath != "" {
		certData, err = LoadCertificateFromFile(config.TLSCertificatePath)
		if err != nil {
			return err
		}
	}
	tlsConfig := NewCustomTLSConfig(certData, config.TLSMode)
	if tlsConfig == nil {
		return nil
	}
	configName := getTLSConfigName(config.TLSMode)
	if _, loaded := tlsRegisterOnce.LoadOrStore(configName, struct{}{}); loaded {
		return nil
	}
	err = mysql.RegisterTLSConfig(configName, tlsConfig)
	if err != nil && strings.Contains(err.Error(), "already registered") {
		err = nil
	}
	return err
}

func getTLSConfigName(mode string) string {
	switch strings.ToUpper(mode) {
	case "DISABLED":
		return ""
	case "REQUIRED":
		return requiredTLSConfigName
	case "VERIFY_CA":
		return verifyCATLSConfigName
	case "VERIFY_IDENTITY":
		return verifyIDTLSConfigName
	default:
		return customTLSConfigName
	}
}

// newDSN returns a new DSN to be used to connect to MariaDB/MySQL.
// It accepts a DSN as input and appends the session-standardizing and
// TLS options the rest of the engine relies on being present.
func newDSN(dsn string, config *DBConfig) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}

	if cfg.TLSConfig == "" {
		switch strings.ToUpper(config.TLSMode) {
		case "DISABLED", "":
			cfg.TLSConfig = ""
		default:
			if err := initCustomTLS(config); err != nil {
				return "", err
			}
			cfg.TLSConfig = getTLSConfigName(config.TLSMode)
		}
	}

	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	cfg.Params["sql_mode"] = `""`
	cfg.Params["time_zone"] = `"+00:00"`
	cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(config.InnodbLockWaitTimeout)
	cfg.Params["lock_wait_timeout"] = strconv.Itoa(config.LockWaitTimeout)
	cfg.Params["transaction_isolation"] = `"read-committed"`
	cfg.Params["charset"] = "utf8mb4"

	cfg.Collation = "utf8mb4_bin"
	// Recycle the connection if we inadvertently connect to a former primary
	// that has since been demoted to a read-only replica.
	cfg.RejectReadOnly = true
	cfg.InterpolateParams = config.InterpolateParams
	cfg.AllowNativePasswords = true
	cfg.AllowCleartextPasswords = cfg.TLSConfig != ""
	if config.DialTimeout > 0 {
		cfg.Timeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		cfg.ReadTimeout = config.ReadTimeout
	}

	return cfg.FormatDSN(), nil
}

// New is similar to sql.Open except it standardizes the DSN (TLS, session
// variables) and pings the connection to ensure it is valid before
// returning.
func New(inputDSN string, config *DBConfig) (db *sql.DB, err error) {
	dsn, err := newDSN(inputDSN, config)
	if err != nil {
		return nil, err
	}
	defer func() {
		if db != nil && err == nil {
			db.SetMaxOpenConns(config.MaxOpenConnections)
			db.SetMaxIdleConns(maxIdleConns)
		}
	}()
	db, err = sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return db, nil
}
