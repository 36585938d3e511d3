// Copyright 2025 The VoxFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package enhance

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2/clientcredentials"
)

// cognitiveScope is the OAuth scope for Azure Cognitive Services.
const cognitiveScope = "https://cognitiveservices.azure.com/.default"

// clientCredential adapts an oauth2 client-credentials token source to
// the azcore TokenCredential interface, for deployments that use Azure
// AD instead of an API key.
type clientCredential struct {
	cfg *clientcredentials.Config
}

var _ azcore.TokenCredential = (*clientCredential)(nil)

// newClientCredential builds the credential from the conventional
// AZURE_TENANT_ID / AZURE_CLIENT_ID / AZURE_CLIENT_SECRET variables.
func newClientCredential() (*clientCredential, error) {
	tenant := os.Getenv("AZURE_TENANT_ID")
	clientID := os.Getenv("AZURE_CLIENT_ID")
	secret := os.Getenv("AZURE_CLIENT_SECRET")
	if tenant == "" || clientID == "" || secret == "" {
		return nil, fmt.Errorf("no API key configured and AZURE_TENANT_ID/AZURE_CLIENT_ID/AZURE_CLIENT_SECRET are not all set")
	}
	return &clientCredential{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: secret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant),
			Scopes:       []string{cognitiveScope},
		},
	}, nil
}

func (c *clientCredential) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.cfg.Token(ctx)
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("fetching azure ad token: %w", err)
	}
	return azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: tok.Expiry}, nil
}
