package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/commerce/internal/httpclient"
	"github.com/example/commerce/internal/logger"
)

// CourierDelhivery is the courier name stored on linked shipments.
const CourierDelhivery = "delhivery"

// Payment modes accepted by the courier manifest.
const (
	ShipmentPaymentPrepaid = "Prepaid"
	ShipmentPaymentCOD     = "COD"
)

type ShipmentAddress struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

// CreateShipmentRequest describes one package to manifest.
type CreateShipmentRequest struct {
	OrderNumber   string
	Consignee     ShipmentAddress
	PaymentMode   string
	CODAmount     decimal.Decimal
	TotalAmount   decimal.Decimal
	Quantity      int
	WeightGrams   int
	Description   string
	International bool
}

type ShipmentResult struct {
	AWB     string `json:"awb"`
	Status  string `json:"status"`
	Remarks string `json:"remarks,omitempty"`
}

type TrackingScan struct {
	Status   string `json:"status"`
	Location string `json:"location"`
	Time     string `json:"time"`
	Remarks  string `json:"remarks,omitempty"`
}

type TrackingResult struct {
	AWB        string         `json:"awb"`
	Status     string         `json:"status"`
	StatusCode string         `json:"status_code"`
	Location   string         `json:"location"`
	Internal   string         `json:"internal_status"`
	Scans      []TrackingScan `json:"scans"`
}

type PickupRequest struct {
	Date          time.Time
	PackageCount  int
	PickupAddress string
}

type PickupResult struct {
	PickupID string `json:"pickup_id"`
}

// CourierClient is the shipment provider used by ShipmentLinker.
type CourierClient interface {
	CreateShipment(ctx context.Context, req CreateShipmentRequest) (*ShipmentResult, error)
	Track(ctx context.Context, awb string) (*TrackingResult, error)
	Cancel(ctx context.Context, awb string) error
	SchedulePickup(ctx context.Context, req PickupRequest) (*PickupResult, error)
}

type delhiveryShipment struct {
	Name          string `json:"name"`
	Add           string `json:"add"`
	Pin           string `json:"pin"`
	City          string `json:"city"`
	State         string `json:"state"`
	Country       string `json:"country"`
	Phone         string `json:"phone"`
	Order         string `json:"order"`
	PaymentMode   string `json:"payment_mode"`
	CODAmount     string `json:"cod_amount"`
	TotalAmount   string `json:"total_amount"`
	Quantity      string `json:"quantity"`
	Weight        string `json:"weight"`
	ProductsDesc  string `json:"products_desc"`
	ShippingMode  string `json:"shipping_mode"`
	ExportReason  string `json:"export_reason,omitempty"`
}

type delhiveryManifest struct {
	Shipments      []delhiveryShipment `json:"shipments"`
	PickupLocation struct {
		Name string `json:"name"`
	} `json:"pickup_location"`
}

type delhiveryCreateResponse struct {
	Success  bool   `json:"success"`
	Remark   string `json:"rmk"`
	Packages []struct {
		Waybill string   `json:"waybill"`
		Status  string   `json:"status"`
		Remarks []string `json:"remarks"`
	} `json:"packages"`
}

type delhiveryTrackResponse struct {
	ShipmentData []struct {
		Shipment struct {
			AWB    string `json:"AWB"`
			Status struct {
				Status         string `json:"Status"`
				StatusType     string `json:"StatusType"`
				StatusLocation string `json:"StatusLocation"`
				StatusDateTime string `json:"StatusDateTime"`
			} `json:"Status"`
			Scans []struct {
				ScanDetail struct {
					Scan            string `json:"Scan"`
					ScanDateTime    string `json:"ScanDateTime"`
					ScannedLocation string `json:"ScannedLocation"`
					Instructions    string `json:"Instructions"`
				} `json:"ScanDetail"`
			} `json:"Scans"`
		} `json:"Shipment"`
	} `json:"ShipmentData"`
}

type delhiveryPickupRequest struct {
	PickupTime           string `json:"pickup_time"`
	PickupDate           string `json:"pickup_date"`
	PickupLocation       string `json:"pickup_location"`
	ExpectedPackageCount int    `json:"expected_package_count"`
}

// DelhiveryClient calls the Delhivery B2C API.
type DelhiveryClient struct {
	baseURL        string
	token          string
	pickupLocation string
	client         *http.Client
	log            *zap.Logger
}

func NewDelhiveryClient(baseURL, token, pickupLocation string, timeout time.Duration) *DelhiveryClient {
	return &DelhiveryClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		pickupLocation: pickupLocation,
		client:         httpclient.NewClient("delhivery", timeout),
		log:            logger.Named("delhivery"),
	}
}

func (c *DelhiveryClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *DelhiveryClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return External(err, "courier unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return External(err, "courier response unreadable")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return External(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), "courier rejected the request")
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return External(fmt.Errorf("decode response: %w", err), "courier response malformed")
	}
	return nil
}

// CreateShipment manifests one package and returns its waybill.
func (c *DelhiveryClient) CreateShipment(ctx context.Context, in CreateShipmentRequest) (*ShipmentResult, error) {
	if in.OrderNumber == "" || in.Consignee.Pincode == "" {
		return nil, Validation("order number and consignee pincode are required")
	}
	mode := in.PaymentMode
	if mode == "" {
		mode = ShipmentPaymentPrepaid
	}
	qty := in.Quantity
	if qty <= 0 {
		qty = 1
	}

	shipment := delhiveryShipment{
		Name:         in.Consignee.Name,
		Add:          in.Consignee.Address,
		Pin:          in.Consignee.Pincode,
		City:         in.Consignee.City,
		State:        in.Consignee.State,
		Country:      in.Consignee.Country,
		Phone:        in.Consignee.Phone,
		Order:        in.OrderNumber,
		PaymentMode:  mode,
		CODAmount:    "0",
		TotalAmount:  in.TotalAmount.StringFixed(2),
		Quantity:     fmt.Sprint(qty),
		Weight:       fmt.Sprint(in.WeightGrams),
		ProductsDesc: in.Description,
		ShippingMode: "Surface",
	}
	if mode == ShipmentPaymentCOD {
		shipment.CODAmount = in.CODAmount.StringFixed(2)
	}
	if in.International {
		shipment.ShippingMode = "Express"
		shipment.ExportReason = "Sale"
	}
	if shipment.Country == "" {
		shipment.Country = "India"
	}

	manifest := delhiveryManifest{Shipments: []delhiveryShipment{shipment}}
	manifest.PickupLocation.Name = c.pickupLocation

	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	form := url.Values{"format": {"json"}, "data": {string(data)}}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/cmu/create.json", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out delhiveryCreateResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if !out.Success || len(out.Packages) == 0 || out.Packages[0].Waybill == "" {
		remark := out.Remark
		if len(out.Packages) > 0 && len(out.Packages[0].Remarks) > 0 {
			remark = strings.Join(out.Packages[0].Remarks, "; ")
		}
		return nil, External(fmt.Errorf("%s", remark), "courier did not create the shipment")
	}

	pkg := out.Packages[0]
	c.log.Info("shipment created", zap.String("order_number", in.OrderNumber), zap.String("awb", pkg.Waybill))
	return &ShipmentResult{AWB: pkg.Waybill, Status: pkg.Status, Remarks: strings.Join(pkg.Remarks, "; ")}, nil
}

// Track returns the latest courier status of a waybill.
func (c *DelhiveryClient) Track(ctx context.Context, awb string) (*TrackingResult, error) {
	if awb == "" {
		return nil, Validation("awb is required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/packages/json/?waybill="+url.QueryEscape(awb), nil)
	if err != nil {
		return nil, err
	}

	var out delhiveryTrackResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if len(out.ShipmentData) == 0 {
		return nil, NotFound("shipment %s not found", awb)
	}

	shipment := out.ShipmentData[0].Shipment
	result := &TrackingResult{
		AWB:        shipment.AWB,
		Status:     shipment.Status.Status,
		StatusCode: shipment.Status.StatusType,
		Location:   shipment.Status.StatusLocation,
		Internal:   MapCourierStatus(shipment.Status.Status, shipment.Status.StatusType),
	}
	for _, scan := range shipment.Scans {
		result.Scans = append(result.Scans, TrackingScan{
			Status:   scan.ScanDetail.Scan,
			Location: scan.ScanDetail.ScannedLocation,
			Time:     scan.ScanDetail.ScanDateTime,
			Remarks:  scan.ScanDetail.Instructions,
		})
	}
	return result, nil
}

// Cancel cancels a manifested shipment.
func (c *DelhiveryClient) Cancel(ctx context.Context, awb string) error {
	if awb == "" {
		return Validation("awb is required")
	}
	body, err := json.Marshal(map[string]string{"waybill": awb, "cancellation": "true"})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/p/edit", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// SchedulePickup books a warehouse pickup.
func (c *DelhiveryClient) SchedulePickup(ctx context.Context, in PickupRequest) (*PickupResult, error) {
	if in.PackageCount <= 0 {
		return nil, Validation("package count must be positive")
	}
	location := in.PickupAddress
	if location == "" {
		location = c.pickupLocation
	}
	body, err := json.Marshal(delhiveryPickupRequest{
		PickupTime:           in.Date.Format("15:04:05"),
		PickupDate:           in.Date.Format("2006-01-02"),
		PickupLocation:       location,
		ExpectedPackageCount: in.PackageCount,
	})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/fm/request/new/", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		PickupID json.Number `json:"pickup_id"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.PickupID == "" {
		return nil, External(fmt.Errorf("missing pickup_id"), "courier did not schedule the pickup")
	}
	return &PickupResult{PickupID: out.PickupID.String()}, nil
}
