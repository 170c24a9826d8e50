package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/botplane/internal/model"
)

func newAdapter(t *testing.T, cred *model.CloudCredential, h http.HandlerFunc, opts ...Option) Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL), WithHTTPClient(srv.Client())}, opts...)
	a, err := New(context.Background(), cred, opts...)
	require.NoError(t, err)
	return a
}

// ---------- Vultr ----------

func TestVultr_Create(t *testing.T) {
	a := newAdapter(t, &model.CloudCredential{Provider: Vultr, APIToken: "vtok"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/instances", r.URL.Path)
		assert.Equal(t, "Bearer vtok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nrt", body["region"])
		assert.Equal(t, float64(2284), body["os_id"])
		ud, err := base64.StdEncoding.DecodeString(body["user_data"].(string))
		require.NoError(t, err)
		assert.Equal(t, "#cloud-config\n", string(ud))

		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"instance":{"id":"abc","main_ip":"0.0.0.0","region":"nrt","plan":"vc2-1c-1gb","status":"pending","power_status":"stopped"}}`)
	})

	inst, err := a.Create(context.Background(), CreateRequest{
		Label: "bot-1", Region: "nrt", Plan: "vc2-1c-1gb", Image: "2284", CloudInit: "#cloud-config\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", inst.ID)
	assert.Equal(t, StatePending, inst.Status)
	assert.Empty(t, inst.IP, "0.0.0.0 is not an address")
}

func TestVultr_LookupByIP(t *testing.T) {
	a := newAdapter(t, &model.CloudCredential{Provider: Vultr, APIToken: "vtok"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "203.0.113.8", r.URL.Query().Get("main_ip"))
		fmt.Fprint(w, `{"instances":[{"id":"xyz","main_ip":"203.0.113.8","region":"sgp","plan":"vc2-1c-1gb","status":"active","power_status":"running"}]}`)
	})

	got, err := a.LookupByIP(context.Background(), "203.0.113.8")
	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, "xyz", got.ID)
	assert.Equal(t, StateRunning, got.Status)
	assert.Equal(t, "sgp", got.Region)
}

func TestVultr_ValidateRejected(t *testing.T) {
	a := newAdapter(t, &model.CloudCredential{Provider: Vultr, APIToken: "bad"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"Invalid API token."}`)
	})
	v, err := a.Validate(context.Background())
	require.NoError(t, err)
	assert.False(t, v.OK)
}

func TestVultr_ValidateCredit(t *testing.T) {
	a := newAdapter(t, &model.CloudCredential{Provider: Vultr, APIToken: "vtok"}, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"account":{"balance":-25.5,"pending_charges":3.5}}`)
	})
	v, err := a.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, v.OK)
	require.NotNil(t, v.AccountBalance)
	assert.InDelta(t, 22.0, *v.AccountBalance, 1e-9)
}

func TestVultr_RetriesServerErrors(t *testing.T) {
	var n atomic.Int32
	a := newAdapter(t, &model.CloudCredential{Provider: Vultr, APIToken: "vtok"}, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, a.Halt(context.Background(), "abc"))
	assert.Equal(t, int32(3), n.Load())
}

// ---------- DigitalOcean ----------

func TestDigitalOcean_LookupPages(t *testing.T) {
	a := newAdapter(t, &model.CloudCredential{Provider: DigitalOcean, APIToken: "dtok"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/droplets", r.URL.Path)
		page := r.URL.Query().Get("page")
		if page == "1" {
			droplets := make([]string, 200)
			for i := range droplets {
				droplets[i] = fmt.Sprintf(`{"id":%d,"status":"active","networks":{"v4":[{"ip_address":"10.0.%d.%d","type":"private"}]}}`, i, i/250, i%250)
			}
			fmt.Fprintf(w, `{"droplets":[%s]}`, strings.Join(droplets, ","))
			return
		}
		fmt.Fprint(w, `{"droplets":[{"id":777,"status":"off","size_slug":"s-1vcpu-1gb","region":{"slug":"sgp1"},"networks":{"v4":[{"ip_address":"10.1.0.1","type":"private"},{"ip_address":"198.51.100.77","type":"public"}]}}]}`)
	})

	got, err := a.LookupByIP(context.Background(), "198.51.100.77")
	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, "777", got.ID)
	assert.Equal(t, StateStopped, got.Status)
	assert.Equal(t, "sgp1", got.Region)
}

func TestDigitalOcean_PowerActions(t *testing.T) {
	var actions []string
	a := newAdapter(t, &model.CloudCredential{Provider: DigitalOcean, APIToken: "dtok"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/droplets/42/actions", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		actions = append(actions, body["type"])
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"action":{"id":1,"status":"in-progress"}}`)
	})
	require.NoError(t, a.Start(context.Background(), "42"))
	require.NoError(t, a.Halt(context.Background(), "42"))
	assert.Equal(t, []string{"power_on", "power_off"}, actions)
}

func TestDigitalOcean_QuotaNotRetried(t *testing.T) {
	var n atomic.Int32
	a := newAdapter(t, &model.CloudCredential{Provider: DigitalOcean, APIToken: "dtok"}, func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"id":"unprocessable_entity","message":"creating this/these droplet(s) will exceed your droplet limit exceeded"}`)
	})
	_, err := a.Create(context.Background(), CreateRequest{Label: "bot", Region: "sgp1", Plan: "s-1vcpu-1gb", Image: "ubuntu-24-04-x64"})
	assert.True(t, IsKind(err, KindQuota))
	assert.Equal(t, int32(1), n.Load())
}

// ---------- Contabo ----------

func TestContabo_PasswordGrant(t *testing.T) {
	var tokens atomic.Int32
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.Form.Get("grant_type"))
		assert.Equal(t, "api@example.com", r.Form.Get("username"))
		assert.Equal(t, "pw", r.Form.Get("password"))
		assert.Equal(t, "cid", r.Form.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"ctok","token_type":"Bearer","expires_in":300}`)
	}))
	defer auth.Close()

	cred := &model.CloudCredential{Provider: Contabo, Extra: map[string]string{
		"client_id": "cid", "client_secret": "csecret", "api_user": "api@example.com", "api_password": "pw",
	}}
	a := newAdapter(t, cred, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ctok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("x-request-id"))
		assert.Equal(t, "/compute/instances/12345", r.URL.Path)
		fmt.Fprint(w, `{"data":[{"instanceId":12345,"status":"running","region":"EU","productId":"V45","ipConfig":{"v4":{"ip":"192.0.2.33"}}}]}`)
	}, WithAuthURL(auth.URL))

	for i := 0; i < 2; i++ {
		ip, err := a.InstanceIP(context.Background(), "12345")
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.33", ip)
	}
	assert.Equal(t, int32(1), tokens.Load(), "token is reused")
}

func TestContabo_MissingCredential(t *testing.T) {
	_, err := New(context.Background(), &model.CloudCredential{Provider: Contabo})
	assert.Error(t, err)
}

// ---------- AWS ----------

const ec2Describe = `<?xml version="1.0" encoding="UTF-8"?>
<DescribeInstancesResponse xmlns="http://ec2.amazonaws.com/doc/2016-11-15/">
  <requestId>req-1</requestId>
  <reservationSet>
    <item>
      <reservationId>r-1</reservationId>
      <instancesSet>
        <item>
          <instanceId>i-0abc</instanceId>
          <instanceType>t3.micro</instanceType>
          <instanceState><code>16</code><name>running</name></instanceState>
          <ipAddress>203.0.113.50</ipAddress>
          <placement><availabilityZone>ap-northeast-1a</availabilityZone></placement>
        </item>
      </instancesSet>
    </item>
  </reservationSet>
</DescribeInstancesResponse>`

func awsCred() *model.CloudCredential {
	return &model.CloudCredential{Provider: AWS, APIToken: "AKIAEXAMPLE", Extra: map[string]string{"secret_access_key": "secret"}}
}

func TestAWS_LookupByIP(t *testing.T) {
	a := newAdapter(t, awsCred(), func(w http.ResponseWriter, r *http.Request) {
		body, _ := readForm(r)
		assert.Equal(t, "DescribeInstances", body.Get("Action"))
		assert.Equal(t, "ip-address", body.Get("Filter.1.Name"))
		assert.Equal(t, "203.0.113.50", body.Get("Filter.1.Value.1"))
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, ec2Describe)
	})

	got, err := a.LookupByIP(context.Background(), "203.0.113.50")
	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, "i-0abc", got.ID)
	assert.Equal(t, StateRunning, got.Status)
	assert.Equal(t, "t3.micro", got.Plan)
}

func TestAWS_ValidateAuthFailure(t *testing.T) {
	a := newAdapter(t, awsCred(), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Response><Errors><Error><Code>AuthFailure</Code><Message>AWS was not able to validate the provided access credentials</Message></Error></Errors><RequestID>req-2</RequestID></Response>`)
	})
	v, err := a.Validate(context.Background())
	require.NoError(t, err)
	assert.False(t, v.OK)
}

func readForm(r *http.Request) (url.Values, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return r.PostForm, nil
}

// ---------- GCP ----------

func TestGCP_InstanceIP(t *testing.T) {
	cred := &model.CloudCredential{Provider: GCP, Extra: map[string]string{"project": "p1"}}
	a := newAdapter(t, cred, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/projects/p1/zones/asia-northeast1-a/instances/bot-1"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"bot-1","status":"RUNNING","zone":"https://www.googleapis.com/compute/v1/projects/p1/zones/asia-northeast1-a",
			"networkInterfaces":[{"accessConfigs":[{"natIP":"34.84.1.2"}]}]}`)
	})

	ip, err := a.InstanceIP(context.Background(), "asia-northeast1-a/bot-1")
	require.NoError(t, err)
	assert.Equal(t, "34.84.1.2", ip)

	_, err = a.InstanceIP(context.Background(), "no-zone")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestGCP_NotFound(t *testing.T) {
	cred := &model.CloudCredential{Provider: GCP, Extra: map[string]string{"project": "p1"}}
	a := newAdapter(t, cred, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"The resource was not found"}}`)
	})
	err := a.Halt(context.Background(), "asia-northeast1-a/bot-9")
	assert.True(t, IsKind(err, KindNotFound))
}
