package kubernetes

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/nrfcloud/token-store/pkg/storage"
)

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  2751055,
		"exp": expiresAt.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestSecretStorage_SetCreatesSecret(t *testing.T) {
	fakeClient := fake.NewClientBuilder().WithScheme(scheme.Scheme).Build()
	secretStorage := NewSecretStorage(fakeClient, "test-namespace", "test-secret")
	ctx := context.Background()

	expiresAt := time.Now().Add(1 * time.Hour)
	tok := signedToken(t, expiresAt)

	err := secretStorage.Set(ctx, "coolKey", tok)
	require.NoError(t, err)

	// Verify secret was created
	secret := &corev1.Secret{}
	err = fakeClient.Get(ctx, types.NamespacedName{Namespace: "test-namespace", Name: "test-secret"}, secret)
	require.NoError(t, err)

	assert.Equal(t, corev1.SecretTypeOpaque, secret.Type)
	assert.Equal(t, []byte(tok), secret.Data["coolKey"])
	assert.Equal(t, ManagedByValue, secret.Annotations[AnnotationManagedBy])
	assert.Equal(t, "coolKey", secret.Annotations[AnnotationTokenKey])
	assert.Equal(t, expiresAt.UTC().Format(time.RFC3339), secret.Annotations[AnnotationTokenExpiry])

	// Read back through the storage
	value, err := secretStorage.Get(ctx, "coolKey")
	require.NoError(t, err)
	assert.Equal(t, tok, value)
}

func TestSecretStorage_SetUpdatesSecret(t *testing.T) {
	fakeClient := fake.NewClientBuilder().WithScheme(scheme.Scheme).Build()
	secretStorage := NewSecretStorage(fakeClient, "test-namespace", "test-secret")
	ctx := context.Background()

	require.NoError(t, secretStorage.Set(ctx, "coolKey", signedToken(t, time.Now().Add(time.Hour))))

	// Opaque tokens clear the expiry annotation
	require.NoError(t, secretStorage.Set(ctx, "coolKey", "opaque-token"))

	secret, err := secretStorage.GetSecret(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("opaque-token"), secret.Data["coolKey"])
	_, hasExpiry := secret.Annotations[AnnotationTokenExpiry]
	assert.False(t, hasExpiry)
}

func TestSecretStorage_SetRefusesUnmanagedSecret(t *testing.T) {
	existing := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test-secret",
			Namespace: "test-namespace",
		},
		Data: map[string][]byte{
			"coolKey": []byte("someone-elses-token"),
		},
	}
	fakeClient := fake.NewClientBuilder().WithScheme(scheme.Scheme).WithObjects(existing).Build()
	secretStorage := NewSecretStorage(fakeClient, "test-namespace", "test-secret")
	ctx := context.Background()

	err := secretStorage.Set(ctx, "coolKey", "new-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not managed by token-store")

	// Reading an unmanaged secret is allowed
	value, err := secretStorage.Get(ctx, "coolKey")
	require.NoError(t, err)
	assert.Equal(t, "someone-elses-token", value)
}

func TestSecretStorage_GetNotFound(t *testing.T) {
	existing := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "existing-secret",
			Namespace: "test-namespace",
		},
		Data: map[string][]byte{
			"other": []byte("value"),
			"empty": {},
		},
	}
	fakeClient := fake.NewClientBuilder().WithScheme(scheme.Scheme).WithObjects(existing).Build()
	ctx := context.Background()

	tests := []struct {
		name       string
		secretName string
		key        string
	}{
		{
			name:       "missing secret",
			secretName: "non-existent",
			key:        "coolKey",
		},
		{
			name:       "missing key",
			secretName: "existing-secret",
			key:        "coolKey",
		},
		{
			name:       "empty value",
			secretName: "existing-secret",
			key:        "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSecretStorage(fakeClient, "test-namespace", tt.secretName).Get(ctx, tt.key)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestSecretStorage_Delete(t *testing.T) {
	fakeClient := fake.NewClientBuilder().WithScheme(scheme.Scheme).Build()
	secretStorage := NewSecretStorage(fakeClient, "test-namespace", "test-secret")
	ctx := context.Background()

	// Deleting from a missing secret is a no-op
	require.NoError(t, secretStorage.Delete(ctx, "coolKey"))

	require.NoError(t, secretStorage.Set(ctx, "coolKey", signedToken(t, time.Now().Add(time.Hour))))
	require.NoError(t, secretStorage.Delete(ctx, "coolKey"))

	_, err := secretStorage.Get(ctx, "coolKey")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	secret, err := secretStorage.GetSecret(ctx)
	require.NoError(t, err)
	_, hasKey := secret.Annotations[AnnotationTokenKey]
	assert.False(t, hasKey)

	// The secret itself is kept
	assert.Equal(t, ManagedByValue, secret.Annotations[AnnotationManagedBy])
}

func TestIsSecretManagedByTokenStore(t *testing.T) {
	tests := []struct {
		name     string
		secret   *corev1.Secret
		expected bool
	}{
		{
			name: "managed secret",
			secret: &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{
					Annotations: map[string]string{
						AnnotationManagedBy: ManagedByValue,
					},
				},
			},
			expected: true,
		},
		{
			name: "not managed secret",
			secret: &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{
					Annotations: map[string]string{
						AnnotationManagedBy: "other-controller",
					},
				},
			},
			expected: false,
		},
		{
			name: "no annotations",
			secret: &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{},
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsSecretManagedByTokenStore(tt.secret))
		})
	}
}

func TestGetTokenExpiry(t *testing.T) {
	expiryTime := time.Now().Add(1 * time.Hour)
	expiryString := expiryTime.Format(time.RFC3339)

	tests := []struct {
		name        string
		secret      *corev1.Secret
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid expiry annotation",
			secret: &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{
					Annotations: map[string]string{
						AnnotationTokenExpiry: expiryString,
					},
				},
			},
			expectError: false,
		},
		{
			name: "no annotations",
			secret: &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{},
			},
			expectError: true,
			errorMsg:    "secret has no annotations",
		},
		{
			name: "missing expiry annotation",
			secret: &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{
					Annotations: map[string]string{
						"other-annotation": "value",
					},
				},
			},
			expectError: true,
			errorMsg:    "secret has no token expiry annotation",
		},
		{
			name: "invalid expiry format",
			secret: &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{
					Annotations: map[string]string{
						AnnotationTokenExpiry: "invalid-time",
					},
				},
			},
			expectError: true,
			errorMsg:    "failed to parse token expiry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expiry, err := GetTokenExpiry(tt.secret)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				require.NoError(t, err)
				assert.Equal(t, expiryTime.Unix(), expiry.Unix())
			}
		})
	}
}
