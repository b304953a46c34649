package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/commerce/internal/models"
)

func newDelhiveryServer(t *testing.T, handler http.HandlerFunc) *DelhiveryClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewDelhiveryClient(server.URL, "tok", "Main Warehouse", 5*time.Second)
}

// TestDelhiveryClient_CreateShipment verifies the manifest form and waybill parsing.
func TestDelhiveryClient_CreateShipment(t *testing.T) {
	var manifest delhiveryManifest
	client := newDelhiveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/cmu/create.json", r.URL.Path)
		assert.Equal(t, "Token tok", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		form, err := url.ParseQuery(string(body))
		require.NoError(t, err)
		assert.Equal(t, "json", form.Get("format"))
		require.NoError(t, json.Unmarshal([]byte(form.Get("data")), &manifest))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"packages":[{"waybill":"1490810000123","status":"Success","remarks":[]}]}`))
	})

	result, err := client.CreateShipment(context.Background(), CreateShipmentRequest{
		OrderNumber: "ORD-1",
		Consignee:   ShipmentAddress{Name: "Asha", Pincode: "411001", City: "Pune"},
		PaymentMode: ShipmentPaymentCOD,
		CODAmount:   dec("1040"),
		TotalAmount: dec("1040"),
		Quantity:    2,
		WeightGrams: 400,
	})
	require.NoError(t, err)
	assert.Equal(t, "1490810000123", result.AWB)

	require.Len(t, manifest.Shipments, 1)
	shipment := manifest.Shipments[0]
	assert.Equal(t, "Main Warehouse", manifest.PickupLocation.Name)
	assert.Equal(t, "ORD-1", shipment.Order)
	assert.Equal(t, "COD", shipment.PaymentMode)
	assert.Equal(t, "1040.00", shipment.CODAmount)
	assert.Equal(t, "2", shipment.Quantity)
	assert.Equal(t, "India", shipment.Country)
	assert.Equal(t, "Surface", shipment.ShippingMode)
}

// TestDelhiveryClient_CreateShipment_Rejected verifies courier remarks surface as errors.
func TestDelhiveryClient_CreateShipment_Rejected(t *testing.T) {
	client := newDelhiveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"rmk":"failed","packages":[{"waybill":"","status":"Fail","remarks":["pincode not serviceable"]}]}`))
	})

	_, err := client.CreateShipment(context.Background(), CreateShipmentRequest{
		OrderNumber: "ORD-1",
		Consignee:   ShipmentAddress{Pincode: "000000"},
	})
	require.Error(t, err)
	assert.Equal(t, KindExternal, KindOf(err))
	assert.Contains(t, err.Error(), "pincode not serviceable")

	_, err = client.CreateShipment(context.Background(), CreateShipmentRequest{OrderNumber: "ORD-1"})
	assert.Equal(t, KindValidation, KindOf(err))
}

// TestDelhiveryClient_Track verifies tracking parsing and status mapping.
func TestDelhiveryClient_Track(t *testing.T) {
	client := newDelhiveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/packages/json/", r.URL.Path)
		if r.URL.Query().Get("waybill") != "123" {
			_, _ = w.Write([]byte(`{"ShipmentData":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"ShipmentData":[{"Shipment":{
			"AWB":"123",
			"Status":{"Status":"Dispatched","StatusType":"UD","StatusLocation":"Pune_Hub"},
			"Scans":[
				{"ScanDetail":{"Scan":"Manifested","ScanDateTime":"2026-01-01T10:00:00","ScannedLocation":"Mumbai"}},
				{"ScanDetail":{"Scan":"Dispatched","ScanDateTime":"2026-01-02T08:00:00","ScannedLocation":"Pune_Hub"}}
			]}}]}`))
	})

	result, err := client.Track(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "Dispatched", result.Status)
	assert.Equal(t, "UD", result.StatusCode)
	assert.Equal(t, "Pune_Hub", result.Location)
	assert.Equal(t, models.DeliveryOutForDelivery, result.Internal)
	assert.Len(t, result.Scans, 2)

	_, err = client.Track(context.Background(), "404")
	assert.Equal(t, KindNotFound, KindOf(err))
}

// TestDelhiveryClient_ErrorStatus verifies non-2xx responses are external errors.
func TestDelhiveryClient_ErrorStatus(t *testing.T) {
	client := newDelhiveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	err := client.Cancel(context.Background(), "123")
	assert.Equal(t, KindExternal, KindOf(err))
}

// TestDelhiveryClient_CancelAndPickup verifies the cancellation and pickup payloads.
func TestDelhiveryClient_CancelAndPickup(t *testing.T) {
	client := newDelhiveryServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/api/p/edit":
			assert.Equal(t, "123", body["waybill"])
			assert.Equal(t, "true", body["cancellation"])
			_, _ = w.Write([]byte(`{"status":true}`))
		case "/fm/request/new/":
			assert.Equal(t, "Main Warehouse", body["pickup_location"])
			assert.Equal(t, "2026-03-04", body["pickup_date"])
			assert.EqualValues(t, 3, body["expected_package_count"])
			_, _ = w.Write([]byte(`{"pickup_id":48211}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	require.NoError(t, client.Cancel(context.Background(), "123"))

	pickup, err := client.SchedulePickup(context.Background(), PickupRequest{
		Date:         time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC),
		PackageCount: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "48211", pickup.PickupID)

	_, err = client.SchedulePickup(context.Background(), PickupRequest{})
	assert.Equal(t, KindValidation, KindOf(err))
}
