package ingest_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/svc/ingest"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

const bundleID = "com.example.ios"

type signer struct {
	root    *x509.Certificate
	leaf    *x509.Certificate
	leafKey *ecdsa.PrivateKey
}

func newCert(t *testing.T, tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, signKey *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func newSigner(t *testing.T) signer {
	t.Helper()
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	notBefore := time.Now().Add(-time.Hour)
	notAfter := time.Now().Add(24 * time.Hour)

	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	root := newCert(t, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)

	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Test Notification Signer"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leaf := newCert(t, leafTmpl, root, &leafKey.PublicKey, rootKey)

	return signer{root: root, leaf: leaf, leafKey: leafKey}
}

func (s signer) roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(s.root)
	return pool
}

func (s signer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["x5c"] = []string{
		base64.StdEncoding.EncodeToString(s.leaf.Raw),
		base64.StdEncoding.EncodeToString(s.root.Raw),
	}
	signed, err := token.SignedString(s.leafKey)
	require.NoError(t, err)
	return signed
}

type appleTxn struct {
	otid         string
	token        string
	product      string
	priceMillis  int64
	notification string
	subtype      string
	uuid         string
}

func (s signer) notification(t *testing.T, txn appleTxn) []byte {
	t.Helper()
	info := jwt.MapClaims{
		"originalTransactionId": txn.otid,
		"transactionId":         txn.otid + "-" + txn.uuid,
		"productId":             txn.product,
		"purchaseDate":          fixedNow.UnixMilli(),
		"price":                 txn.priceMillis,
		"currency":              "USD",
	}
	if txn.token != "" {
		info["appAccountToken"] = txn.token
	}
	payload := s.sign(t, jwt.MapClaims{
		"notificationType": txn.notification,
		"subtype":          txn.subtype,
		"notificationUUID": txn.uuid,
		"version":          "2.0",
		"signedDate":       fixedNow.UnixMilli(),
		"data": map[string]any{
			"bundleId":              bundleID,
			"environment":           "Sandbox",
			"signedTransactionInfo": s.sign(t, info),
			"signedRenewalInfo": s.sign(t, jwt.MapClaims{
				"originalTransactionId": txn.otid,
				"autoRenewProductId":    txn.product,
				"autoRenewStatus":       1,
			}),
		},
	})
	body, err := json.Marshal(map[string]string{"signedPayload": payload})
	require.NoError(t, err)
	return body
}

func newAppStore(f fixture, v ingest.PayloadVerifier) *ingest.AppStore {
	return ingest.NewAppStore(f.engine, f.accounts, f.catalog, v, ingest.AppStoreConfig{BundleID: bundleID}, ingestOpts()...)
}

func TestAppStoreHandleNotification(t *testing.T) {
	t.Parallel()

	s := newSigner(t)

	t.Run("first purchase links the original transaction", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		f := newFixture(t)
		a := newAppStore(f, ingest.NewX5CVerifier(s.roots()))

		d, err := a.HandleNotification(ctx, s.notification(t, appleTxn{
			otid: "2000001", token: f.guardian.String(), product: "premium.monthly",
			priceMillis: 9990, notification: "SUBSCRIBED", subtype: "INITIAL_BUY", uuid: "n-1",
		}))
		require.NoError(t, err)
		assert.Equal(t, ingest.DispositionApplied, d)

		owner, err := f.accounts.ResolveIdentity(ctx, subscription.PlatformAppStore, "2000001")
		require.NoError(t, err)
		assert.Equal(t, f.guardian, owner)

		sub := f.subscription(t)
		assert.Equal(t, subscription.StatusPremium, sub.Status)
		require.NotNil(t, sub.DueDate)
		assert.Equal(t, day(2026, 3, 11), *sub.DueDate)

		history, err := f.store.History(ctx, f.guardian)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "$9.99", history[0].Amount)

		// later notifications carry no token and route by original transaction
		d, err = a.HandleNotification(ctx, s.notification(t, appleTxn{
			otid: "2000001", product: "premium.monthly", notification: "EXPIRED", subtype: "VOLUNTARY", uuid: "n-2",
		}))
		require.NoError(t, err)
		assert.Equal(t, ingest.DispositionApplied, d)
		assert.Equal(t, subscription.StatusFreemium, f.subscription(t).Status)
	})

	t.Run("redelivery is a duplicate", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		f := newFixture(t)
		a := newAppStore(f, ingest.NewX5CVerifier(s.roots()))
		body := s.notification(t, appleTxn{
			otid: "2000002", token: f.guardian.String(), product: "premium.annual",
			notification: "SUBSCRIBED", uuid: "n-1",
		})

		d, err := a.HandleNotification(ctx, body)
		require.NoError(t, err)
		assert.Equal(t, ingest.DispositionApplied, d)

		d, err = a.HandleNotification(ctx, body)
		require.NoError(t, err)
		assert.Equal(t, ingest.DispositionDuplicate, d)
	})

	t.Run("grace period failure needs an unused trial", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		f := newFixture(t)
		a := newAppStore(f, ingest.NewX5CVerifier(s.roots()))

		d, err := a.HandleNotification(ctx, s.notification(t, appleTxn{
			otid: "2000003", token: f.guardian.String(), product: "premium.monthly",
			notification: "DID_FAIL_TO_RENEW", subtype: "GRACE_PERIOD", uuid: "n-1",
		}))
		require.NoError(t, err)
		assert.Equal(t, ingest.DispositionApplied, d)
		assert.Equal(t, subscription.StatusTrial, f.subscription(t).Status)
	})

	t.Run("informational notification", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := newAppStore(f, ingest.NewX5CVerifier(s.roots()))

		d, err := a.HandleNotification(context.Background(), s.notification(t, appleTxn{
			otid: "2000004", notification: "DID_CHANGE_RENEWAL_STATUS", subtype: "AUTO_RENEW_DISABLED", uuid: "n-1",
		}))
		require.NoError(t, err)
		assert.Equal(t, ingest.DispositionIgnored, d)
	})

	t.Run("untrusted signer is an anomaly", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := newAppStore(f, ingest.NewX5CVerifier(newSigner(t).roots()))

		d, err := a.HandleNotification(context.Background(), s.notification(t, appleTxn{
			otid: "2000005", token: f.guardian.String(), product: "premium.monthly",
			notification: "SUBSCRIBED", uuid: "n-1",
		}))
		require.NoError(t, err)
		assert.Equal(t, ingest.DispositionAnomaly, d)
		assert.Equal(t, subscription.StatusFreemium, f.subscription(t).Status)
	})

	t.Run("unroutable transaction is an anomaly", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := newAppStore(f, ingest.NewX5CVerifier(s.roots()))

		d, err := a.HandleNotification(context.Background(), s.notification(t, appleTxn{
			otid: "2000006", product: "premium.monthly", notification: "DID_RENEW", uuid: "n-1",
		}))
		require.NoError(t, err)
		assert.Equal(t, ingest.DispositionAnomaly, d)
	})

	t.Run("malformed body is an anomaly", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := newAppStore(f, ingest.NewX5CVerifier(s.roots()))

		for _, body := range []string{`not json`, `{}`, `{"signedPayload":"a.b.c"}`} {
			d, err := a.HandleNotification(context.Background(), []byte(body))
			require.NoError(t, err, body)
			assert.Equal(t, ingest.DispositionAnomaly, d, body)
		}
	})

	t.Run("unverified decoder", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := newAppStore(f, ingest.UnverifiedDecoder{})

		d, err := a.HandleNotification(context.Background(), s.notification(t, appleTxn{
			otid: "2000007", token: f.guardian.String(), product: "premium.weekly",
			notification: "SUBSCRIBED", uuid: "n-1",
		}))
		require.NoError(t, err)
		assert.Equal(t, ingest.DispositionApplied, d)
	})
}

func TestAppStoreBundleMismatch(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	f := newFixture(t)
	a := ingest.NewAppStore(f.engine, f.accounts, f.catalog, ingest.NewX5CVerifier(s.roots()),
		ingest.AppStoreConfig{BundleID: "com.other.ios"}, ingestOpts()...)

	d, err := a.HandleNotification(context.Background(), s.notification(t, appleTxn{
		otid: "2000008", token: uuid.NewString(), product: "premium.monthly", notification: "SUBSCRIBED", uuid: "n-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, ingest.DispositionAnomaly, d)
}

func TestLoadRoots(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	dir := t.TempDir()

	pemPath := filepath.Join(dir, "root.pem")
	require.NoError(t, os.WriteFile(pemPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.root.Raw}), 0o600))
	derPath := filepath.Join(dir, "root.cer")
	require.NoError(t, os.WriteFile(derPath, s.root.Raw, 0o600))

	for _, path := range []string{pemPath, derPath} {
		pool, err := ingest.LoadRoots(path)
		require.NoError(t, err, path)

		var claims jwt.MapClaims
		require.NoError(t, ingest.NewX5CVerifier(pool).Verify(s.sign(t, jwt.MapClaims{"a": 1}), &claims), path)
		assert.EqualValues(t, 1, claims["a"])
	}

	_, err := ingest.LoadRoots(filepath.Join(dir, "missing.pem"))
	require.Error(t, err)
}
