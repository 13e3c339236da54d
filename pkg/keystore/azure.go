package keystore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// VaultURL is the data-plane endpoint of a vault in the public cloud.
func VaultURL(vaultName string) string {
	return "https://" + vaultName + ".vault.azure.net"
}

// Credential uses the service principal when tenant, client and secret are
// all set, and the default credential chain otherwise.
func Credential(tenantID, clientID, clientSecret string) (azcore.TokenCredential, error) {
	if tenantID != "" && clientID != "" && clientSecret != "" {
		return azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

// AzureSecretClient adapts azsecrets.Client to SecretClient.
type AzureSecretClient struct {
	client *azsecrets.Client
}

var _ SecretClient = (*AzureSecretClient)(nil)

func NewAzureSecretClient(vaultURL string, cred azcore.TokenCredential, opts *azsecrets.ClientOptions) (*AzureSecretClient, error) {
	c, err := azsecrets.NewClient(vaultURL, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("key vault client: %w", err)
	}
	return &AzureSecretClient{client: c}, nil
}

func (a *AzureSecretClient) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := a.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return "", notFound(err)
	}
	if resp.Value == nil {
		return "", fmt.Errorf("secret %s: %w", name, ErrNotFound)
	}
	return *resp.Value, nil
}

func (a *AzureSecretClient) SetSecret(ctx context.Context, name, value string) error {
	_, err := a.client.SetSecret(ctx, name, azsecrets.SetSecretParameters{Value: &value}, nil)
	return err
}

// DeleteSecret starts a soft delete; the secret stays recoverable for the
// vault's retention period.
func (a *AzureSecretClient) DeleteSecret(ctx context.Context, name string) error {
	_, err := a.client.DeleteSecret(ctx, name, nil)
	return notFound(err)
}

func notFound(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
