package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

const (
	renewalInterval = 30 * 24 * time.Hour
	renewBefore     = 30 * 24 * time.Hour
)

// startCertificateRenewal checks the cached certificate on startup and then
// monthly until ctx ends.
func startCertificateRenewal(ctx context.Context, m *autocert.Manager, domain string, logger *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(30 * time.Second):
	}

	ticker := time.NewTicker(renewalInterval)
	defer ticker.Stop()

	checkAndRenewCertificate(m, domain, time.Now(), logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkAndRenewCertificate(m, domain, time.Now(), logger)
		}
	}
}

func checkAndRenewCertificate(m *autocert.Manager, domain string, now time.Time, logger *slog.Logger) {
	hello := &tls.ClientHelloInfo{ServerName: domain}

	cert, err := m.GetCertificate(hello)
	if err != nil {
		logger.Error("certificate lookup failed, will be obtained on next request", "domain", domain, "error", err)
		return
	}
	if cert == nil || len(cert.Certificate) == 0 {
		logger.Error("no certificate in cache, will be obtained on next request", "domain", domain)
		return
	}

	leaf := cert.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			logger.Error("parse certificate", "domain", domain, "error", err)
			return
		}
	}

	if !needsRenewal(leaf, now) {
		logger.Info("certificate valid", "domain", domain, "expires", leaf.NotAfter.Format("2006-01-02"))
		return
	}

	logger.Info("certificate expires soon, renewing", "domain", domain, "expires", leaf.NotAfter.Format("2006-01-02"))
	if _, err := m.GetCertificate(hello); err != nil {
		logger.Error("certificate renewal failed", "domain", domain, "error", err)
	}
}

func needsRenewal(cert *x509.Certificate, now time.Time) bool {
	return cert.NotAfter.Sub(now) < renewBefore
}

// generateSelfSignedCert creates a one-year ECDSA certificate for hosts.
func generateSelfSignedCert(hosts []string) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	dnsNames, ipAddrs := splitHosts(hosts)

	commonName := "localhost"
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else if len(ipAddrs) > 0 {
		commonName = ipAddrs[0].String()
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"MLM Admin Development"},
			CommonName:   commonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	certBuffer := new(bytes.Buffer)
	if err := pem.Encode(certBuffer, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode certificate: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	keyBuffer := new(bytes.Buffer)
	if err := pem.Encode(keyBuffer, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	return certBuffer.Bytes(), keyBuffer.Bytes(), nil
}

// splitHosts separates IP literals from DNS names and drops ports.
func splitHosts(hosts []string) ([]string, []net.IP) {
	dnsNames := make([]string, 0, len(hosts))
	ipAddrs := make([]net.IP, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if idx := strings.Index(h, ":"); idx != -1 {
			h = h[:idx]
		}
		if ip := net.ParseIP(h); ip != nil {
			ipAddrs = append(ipAddrs, ip)
			continue
		}
		dnsNames = append(dnsNames, h)
	}
	if len(dnsNames) == 0 && len(ipAddrs) == 0 {
		dnsNames = []string{"localhost"}
	}
	return dnsNames, ipAddrs
}
