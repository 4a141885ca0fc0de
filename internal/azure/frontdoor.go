package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/cdn/armcdn"

	"github.com/datan8/sitepilot/internal/logging"
)

// FrontDoor aggregates the shared routing resources every client reuses.
type FrontDoor struct {
	ProfileName   string
	EndpointName  string
	EndpointHost  string
	OriginGroupID string
	RuleSetID     string
	RuleSetName   string
}

// EnsureFrontDoor makes sure the shared Front Door profile, endpoint,
// origin group and rule set exist, creating any missing piece. The profile
// is shared across all clients; per-client state lives in rules and routes.
func (c *Clients) EnsureFrontDoor(ctx context.Context, originHosts []string) (FrontDoor, error) {
	rg := c.cfg.SharedResourceGroup
	profileName := c.cfg.FrontDoorProfile
	endpointName := c.cfg.FrontDoorEndpoint

	if err := c.ensureProfile(ctx, rg, profileName); err != nil {
		return FrontDoor{}, err
	}

	endpointHost, err := c.ensureEndpoint(ctx, rg, profileName, endpointName)
	if err != nil {
		return FrontDoor{}, err
	}

	originGroupID, err := c.ensureOriginGroup(ctx, rg, profileName, "client-sites")
	if err != nil {
		return FrontDoor{}, err
	}

	for _, host := range originHosts {
		if err := c.ensureOrigin(ctx, rg, profileName, "client-sites", host); err != nil {
			return FrontDoor{}, err
		}
	}

	ruleSetName := "clientrouting"
	ruleSetID, err := c.ensureRuleSet(ctx, rg, profileName, ruleSetName)
	if err != nil {
		return FrontDoor{}, err
	}

	return FrontDoor{
		ProfileName:   profileName,
		EndpointName:  endpointName,
		EndpointHost:  endpointHost,
		OriginGroupID: originGroupID,
		RuleSetID:     ruleSetID,
		RuleSetName:   ruleSetName,
	}, nil
}

func (c *Clients) ensureProfile(ctx context.Context, rg, name string) error {
	_, err := c.profiles.Get(ctx, rg, name, nil)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check front door profile %s: %w", name, err)
	}

	poller, err := c.profiles.BeginCreate(ctx, rg, name, armcdn.Profile{
		Location: to.Ptr("Global"),
		SKU:      &armcdn.SKU{Name: to.Ptr(armcdn.SKUNameStandardAzureFrontDoor)},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to start creating front door profile %s: %w", name, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("failed to create front door profile %s: %w", name, err)
	}

	logging.Info("front door profile created", "profile", name)
	return nil
}

func (c *Clients) ensureEndpoint(ctx context.Context, rg, profile, name string) (string, error) {
	existing, err := c.endpoints.Get(ctx, rg, profile, name, nil)
	if err == nil {
		return endpointHost(existing.AFDEndpoint), nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("failed to check front door endpoint %s: %w", name, err)
	}

	poller, err := c.endpoints.BeginCreate(ctx, rg, profile, name, armcdn.AFDEndpoint{
		Location: to.Ptr("Global"),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to start creating front door endpoint %s: %w", name, err)
	}
	created, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create front door endpoint %s: %w", name, err)
	}

	logging.Info("front door endpoint created", "endpoint", name)
	return endpointHost(created.AFDEndpoint), nil
}

func endpointHost(endpoint armcdn.AFDEndpoint) string {
	if endpoint.Properties != nil && endpoint.Properties.HostName != nil {
		return *endpoint.Properties.HostName
	}
	return ""
}

func (c *Clients) ensureOriginGroup(ctx context.Context, rg, profile, name string) (string, error) {
	existing, err := c.originGroups.Get(ctx, rg, profile, name, nil)
	if err == nil {
		return *existing.ID, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("failed to check origin group %s: %w", name, err)
	}

	poller, err := c.originGroups.BeginCreate(ctx, rg, profile, name, armcdn.AFDOriginGroup{
		Properties: &armcdn.AFDOriginGroupProperties{
			LoadBalancingSettings: &armcdn.LoadBalancingSettingsParameters{
				SampleSize:                to.Ptr[int32](4),
				SuccessfulSamplesRequired: to.Ptr[int32](3),
			},
		},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to start creating origin group %s: %w", name, err)
	}
	created, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create origin group %s: %w", name, err)
	}

	logging.Info("origin group created", "origin_group", name)
	return *created.ID, nil
}

func (c *Clients) ensureOrigin(ctx context.Context, rg, profile, originGroup, host string) error {
	// Origin names must be alphanumeric and dashes; a storage web host
	// like account.z8.web.core.windows.net maps onto account-web.
	name := strings.SplitN(host, ".", 2)[0] + "-web"

	_, err := c.origins.Get(ctx, rg, profile, originGroup, name, nil)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check origin %s: %w", name, err)
	}

	poller, err := c.origins.BeginCreate(ctx, rg, profile, originGroup, name, armcdn.AFDOrigin{
		Properties: &armcdn.AFDOriginProperties{
			HostName:         to.Ptr(host),
			OriginHostHeader: to.Ptr(host),
			HTTPPort:         to.Ptr[int32](80),
			HTTPSPort:        to.Ptr[int32](443),
			Priority:         to.Ptr[int32](1),
			Weight:           to.Ptr[int32](1000),
			EnabledState:     to.Ptr(armcdn.EnabledStateEnabled),
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to start creating origin %s: %w", name, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("failed to create origin %s: %w", name, err)
	}

	logging.Info("origin created", "origin", name, "host", host)
	return nil
}

func (c *Clients) ensureRuleSet(ctx context.Context, rg, profile, name string) (string, error) {
	existing, err := c.ruleSets.Get(ctx, rg, profile, name, nil)
	if err == nil {
		return *existing.ID, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("failed to check rule set %s: %w", name, err)
	}

	created, err := c.ruleSets.Create(ctx, rg, profile, name, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create rule set %s: %w", name, err)
	}

	logging.Info("rule set created", "rule_set", name)
	return *created.ID, nil
}

// EnsureClientRoute installs the per-client rewrite rule and route: any
// request under /<clientKey>/ is rewritten into the client's subfolder on
// the storage origin. Rule order increments are derived from the existing
// rule count; a duplicate name reuses the existing rule.
func (c *Clients) EnsureClientRoute(ctx context.Context, fd FrontDoor, clientKey string) (string, error) {
	rg := c.cfg.SharedResourceGroup
	ruleName := "rewrite" + strings.ReplaceAll(clientKey, "-", "")
	routeName := "route-" + clientKey
	pathPrefix := "/" + clientKey + "/"

	_, err := c.rules.Get(ctx, rg, fd.ProfileName, fd.RuleSetName, ruleName, nil)
	if err != nil {
		if !isNotFound(err) {
			return "", fmt.Errorf("failed to check rule %s: %w", ruleName, err)
		}

		order, err := c.nextRuleOrder(ctx, rg, fd.ProfileName, fd.RuleSetName)
		if err != nil {
			return "", err
		}

		poller, err := c.rules.BeginCreate(ctx, rg, fd.ProfileName, fd.RuleSetName, ruleName, armcdn.Rule{
			Properties: rewriteRuleProperties(pathPrefix, order),
		}, nil)
		if err != nil {
			return "", fmt.Errorf("failed to start creating rule %s: %w", ruleName, err)
		}
		if _, err := poller.PollUntilDone(ctx, nil); err != nil {
			return "", fmt.Errorf("failed to create rule %s: %w", ruleName, err)
		}
		logging.Info("rewrite rule created", "rule", ruleName, "path_prefix", pathPrefix)
	}

	_, err = c.routes.Get(ctx, rg, fd.ProfileName, fd.EndpointName, routeName, nil)
	if err == nil {
		return "https://" + fd.EndpointHost + pathPrefix, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("failed to check route %s: %w", routeName, err)
	}

	poller, err := c.routes.BeginCreate(ctx, rg, fd.ProfileName, fd.EndpointName, routeName, armcdn.Route{
		Properties: &armcdn.RouteProperties{
			OriginGroup:         &armcdn.ResourceReference{ID: to.Ptr(fd.OriginGroupID)},
			RuleSets:            []*armcdn.ResourceReference{{ID: to.Ptr(fd.RuleSetID)}},
			PatternsToMatch:     []*string{to.Ptr("/" + clientKey + "/*")},
			SupportedProtocols:  []*armcdn.AFDEndpointProtocols{to.Ptr(armcdn.AFDEndpointProtocolsHTTPS)},
			ForwardingProtocol:  to.Ptr(armcdn.ForwardingProtocolHTTPSOnly),
			HTTPSRedirect:       to.Ptr(armcdn.HTTPSRedirectEnabled),
			LinkToDefaultDomain: to.Ptr(armcdn.LinkToDefaultDomainEnabled),
		},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to start creating route %s: %w", routeName, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return "", fmt.Errorf("failed to create route %s: %w", routeName, err)
	}

	logging.Info("client route created", "route", routeName)
	return "https://" + fd.EndpointHost + pathPrefix, nil
}

// rewriteRuleProperties builds the delivery rule that rewrites requests
// under pathPrefix into the matching subfolder on the storage origin.
func rewriteRuleProperties(pathPrefix string, order int32) *armcdn.RuleProperties {
	return &armcdn.RuleProperties{
		Order: to.Ptr(order),
		Conditions: []armcdn.DeliveryRuleConditionClassification{
			&armcdn.DeliveryRuleURLPathCondition{
				Name: to.Ptr(armcdn.MatchVariableURLPath),
				Parameters: &armcdn.URLPathMatchConditionParameters{
					TypeName:    to.Ptr(armcdn.URLPathMatchConditionParametersTypeNameDeliveryRuleURLPathMatchConditionParameters),
					Operator:    to.Ptr(armcdn.URLPathOperatorBeginsWith),
					MatchValues: []*string{to.Ptr(pathPrefix)},
				},
			},
		},
		Actions: []armcdn.DeliveryRuleActionAutoGeneratedClassification{
			&armcdn.URLRewriteAction{
				Name: to.Ptr(armcdn.DeliveryRuleActionURLRewrite),
				Parameters: &armcdn.URLRewriteActionParameters{
					TypeName:              to.Ptr(armcdn.URLRewriteActionParametersTypeNameDeliveryRuleURLRewriteActionParameters),
					SourcePattern:         to.Ptr(pathPrefix),
					Destination:           to.Ptr(pathPrefix),
					PreserveUnmatchedPath: to.Ptr(true),
				},
			},
		},
	}
}

// nextRuleOrder returns one past the highest existing rule order. Orders
// only need to be unique within the rule set.
func (c *Clients) nextRuleOrder(ctx context.Context, rg, profile, ruleSet string) (int32, error) {
	var max int32
	pager := c.rules.NewListByRuleSetPager(rg, profile, ruleSet, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list rules in %s: %w", ruleSet, err)
		}
		for _, rule := range page.Value {
			if rule.Properties != nil && rule.Properties.Order != nil && *rule.Properties.Order > max {
				max = *rule.Properties.Order
			}
		}
	}
	return max + 1, nil
}
