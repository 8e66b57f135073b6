package source

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"analytics-engine/pkg/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var snapshot = map[string]string{
	"DimDate.csv":           "DateKey,Date,Year,Month,MonthIdx\n20230101,2023-01-01,2023,1,1\n20230102,2023-01-02,2023,1,1\n20230201,not-a-date,2023,2,2\n",
	"DimGeo.csv":            "GeoID,Region,Country\n1,EMEA,France\n",
	"DimChannel.csv":        "ChannelID,ChannelName,Type\n1,Web,Online\n2,Store,Offline\n",
	"DimProduct.csv":        "ProductID,ProductName,Category,Subcategory\n10,Novel,Books,Fiction\n",
	"DimCustomer.csv":       "CustomerID,Region,Country,Segment\n100,EMEA,France,SMB\n",
	"FactSubscriptions.csv": "CustomerID,StartDate,EndDate\n100,2023-01-05,\n101,2023-01-07,2023-03-01\n102,garbage,2023-03-01\n",
	"FactSales.csv":         "DateKey,ProductID,ChannelID,CustomerID,Qty,UnitPrice,Discount,Cost,IsSubscription\n20230101,10,1,100,10,5,0.1,3,1\n20230102,10,2,100,,5,0,3,0\n",
	"FactWeb.csv":           "DateKey,ChannelID,Sessions,Conversions,Spend\n20230101,1,100,5,20.5\n",
	"FactBudget.csv":        "DateKey,Category,ChannelID,BudgetRevenue,BudgetMRR\n20230101,Books,1,40,\n",
}

func writeSnapshot(t *testing.T, skip string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range snapshot {
		if name == skip {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoader_LoadDir(t *testing.T) {
	dir := writeSnapshot(t, "")
	ds, err := NewLoader(DirFetcher{Dir: dir}, nil).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, ds.Dates, 3)
	assert.True(t, ds.Dates[2].Date.IsZero(), "unparseable date becomes missing")
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), ds.Dates[1].Date)

	require.Len(t, ds.Subscriptions, 3)
	assert.Nil(t, ds.Subscriptions[0].EndDate)
	require.NotNil(t, ds.Subscriptions[1].EndDate)
	assert.Equal(t, time.March, ds.Subscriptions[1].EndDate.Month())
	assert.True(t, ds.Subscriptions[2].StartDate.IsZero())

	require.Len(t, ds.Sales, 2)
	assert.Equal(t, 10.0, ds.Sales[0].Qty)
	assert.True(t, ds.Sales[0].IsSubscription)
	assert.True(t, math.IsNaN(ds.Sales[1].Qty), "empty numeric cell becomes NaN")

	require.Len(t, ds.Budget, 1)
	assert.True(t, math.IsNaN(ds.Budget[0].BudgetMRR))
	assert.Equal(t, "Web", ds.Channels[0].ChannelName)

	// 1 cellule vide sur 3 lignes × 3 colonnes
	assert.Equal(t, models.TableStats{Table: "FactSubscriptions", Rows: 3, NullPct: 11.11}, ds.Stats[models.TableFactSubscriptions])
	assert.Len(t, ds.Stats, len(models.Tables))
}

func TestLoader_MissingFile(t *testing.T) {
	dir := writeSnapshot(t, "FactWeb.csv")
	_, err := NewLoader(DirFetcher{Dir: dir}, nil).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingFile))
	assert.Contains(t, err.Error(), "FactWeb.csv")
}

func TestReadTable_EmptyFile(t *testing.T) {
	tbl, err := readTable("DimGeo", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, models.TableStats{Table: "DimGeo"}, tbl.stats())
}

type fakeS3 struct {
	objects map[string]string
	keys    []string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.keys = append(f.keys, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3Fetcher(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"exports/2024/DimGeo.csv": "GeoID\n1\n"}}
	f := &S3Fetcher{Client: client, Bucket: "analytics", Prefix: "/exports/2024/"}

	rc, err := f.Fetch(context.Background(), "DimGeo.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "GeoID\n1\n", string(body))

	_, err = f.Fetch(context.Background(), "FactWeb.csv")
	assert.True(t, errors.Is(err, ErrMissingFile))
	assert.Equal(t, []string{"exports/2024/DimGeo.csv", "exports/2024/FactWeb.csv"}, client.keys)
	assert.Equal(t, "s3://analytics/exports/2024", f.Location())
}

// lockedS3 sérialise les appels : le chargement interroge S3 en parallèle.
type lockedS3 struct {
	mu   sync.Mutex
	fake *fakeS3
}

func (l *lockedS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fake.GetObject(ctx, in, opts...)
}

func TestS3Fetcher_LoadSnapshot(t *testing.T) {
	objects := map[string]string{}
	for name, content := range snapshot {
		objects[name] = content
	}
	f := &S3Fetcher{Client: &lockedS3{fake: &fakeS3{objects: objects}}, Bucket: "analytics"}
	ds, err := NewLoader(f, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, ds.Sales, 2)
}
