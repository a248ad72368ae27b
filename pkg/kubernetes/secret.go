package kubernetes

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/nrfcloud/token-store/pkg/storage"
	"github.com/nrfcloud/token-store/pkg/token"
)

const (
	// ManagedByValue marks secrets written by the token store
	ManagedByValue = "token-store"

	// AnnotationManagedBy indicates the secret is managed by the token store
	AnnotationManagedBy = "token-store.nrfcloud.com/managed-by"

	// AnnotationTokenExpiry stores the expiry of the last written token
	AnnotationTokenExpiry = "token-store.nrfcloud.com/token-expiry"

	// AnnotationTokenKey stores the data key of the last written token
	AnnotationTokenKey = "token-store.nrfcloud.com/token-key"
)

// SecretStorage keeps tokens in the data of a single Kubernetes secret
type SecretStorage struct {
	client    client.Client
	namespace string
	name      string
}

// Ensure SecretStorage implements storage.Storage
var _ storage.Storage = (*SecretStorage)(nil)

// NewSecretStorage creates a storage backed by the secret namespace/name
func NewSecretStorage(client client.Client, namespace, name string) *SecretStorage {
	return &SecretStorage{
		client:    client,
		namespace: namespace,
		name:      name,
	}
}

// Get reads a data key of the secret
func (ss *SecretStorage) Get(ctx context.Context, key string) (string, error) {
	secret, err := ss.GetSecret(ctx)
	if apierrors.IsNotFound(err) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s/%s: %w", ss.namespace, ss.name, err)
	}

	value, exists := secret.Data[key]
	if !exists || len(value) == 0 {
		return "", storage.ErrNotFound
	}
	return string(value), nil
}

// Set writes a data key, creating the secret if needed. Existing secrets not
// managed by the token store are left untouched.
func (ss *SecretStorage) Set(ctx context.Context, key, value string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ss.name,
			Namespace: ss.namespace,
		},
	}

	_, err := controllerutil.CreateOrUpdate(ctx, ss.client, secret, func() error {
		if secret.ResourceVersion != "" && !IsSecretManagedByTokenStore(secret) {
			return fmt.Errorf("secret %s/%s exists but is not managed by %s", ss.namespace, ss.name, ManagedByValue)
		}

		if secret.Type == "" {
			secret.Type = corev1.SecretTypeOpaque
		}
		if secret.Data == nil {
			secret.Data = make(map[string][]byte)
		}
		secret.Data[key] = []byte(value)

		if secret.Annotations == nil {
			secret.Annotations = make(map[string]string)
		}
		secret.Annotations[AnnotationManagedBy] = ManagedByValue
		secret.Annotations[AnnotationTokenKey] = key
		delete(secret.Annotations, AnnotationTokenExpiry)
		if user, err := token.DecodeJWT(value); err == nil {
			if expiry, ok := user.ExpiresAt(); ok {
				secret.Annotations[AnnotationTokenExpiry] = expiry.UTC().Format(time.RFC3339)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create or update secret: %w", err)
	}
	return nil
}

// Delete removes a data key from the secret
func (ss *SecretStorage) Delete(ctx context.Context, key string) error {
	secret, err := ss.GetSecret(ctx)
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get secret %s/%s: %w", ss.namespace, ss.name, err)
	}
	if _, exists := secret.Data[key]; !exists {
		return nil
	}
	if !IsSecretManagedByTokenStore(secret) {
		return fmt.Errorf("secret %s/%s exists but is not managed by %s", ss.namespace, ss.name, ManagedByValue)
	}

	delete(secret.Data, key)
	if secret.Annotations[AnnotationTokenKey] == key {
		delete(secret.Annotations, AnnotationTokenKey)
		delete(secret.Annotations, AnnotationTokenExpiry)
	}
	if err := ss.client.Update(ctx, secret); err != nil {
		return fmt.Errorf("failed to update secret: %w", err)
	}
	return nil
}

// GetSecret retrieves the backing secret
func (ss *SecretStorage) GetSecret(ctx context.Context) (*corev1.Secret, error) {
	secret := &corev1.Secret{}
	err := ss.client.Get(ctx, types.NamespacedName{
		Namespace: ss.namespace,
		Name:      ss.name,
	}, secret)

	if err != nil {
		return nil, err
	}

	return secret, nil
}

// IsSecretManagedByTokenStore checks if a secret was written by the token store
func IsSecretManagedByTokenStore(secret *corev1.Secret) bool {
	if secret.Annotations == nil {
		return false
	}

	managedBy, exists := secret.Annotations[AnnotationManagedBy]
	return exists && managedBy == ManagedByValue
}

// GetTokenExpiry returns the expiry of the last written token from secret annotations
func GetTokenExpiry(secret *corev1.Secret) (time.Time, error) {
	if secret.Annotations == nil {
		return time.Time{}, fmt.Errorf("secret has no annotations")
	}

	expiryStr, exists := secret.Annotations[AnnotationTokenExpiry]
	if !exists {
		return time.Time{}, fmt.Errorf("secret has no token expiry annotation")
	}

	expiry, err := time.Parse(time.RFC3339, expiryStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token expiry: %w", err)
	}

	return expiry, nil
}
