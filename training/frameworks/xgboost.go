package frameworks

import (
	"encoding/json"
	"fmt"
	"sort"
)

// XGBoost resolves the managed XGBoost container and its script-mode
// hyperparameters
type XGBoost struct{}

// xgboostAccounts maps regions to the registry account hosting the
// sagemaker-xgboost images
var xgboostAccounts = map[string]string{
	"us-east-1":      "683313688378",
	"us-east-2":      "257758044811",
	"us-west-1":      "746614075791",
	"us-west-2":      "246618743249",
	"ca-central-1":   "341280168497",
	"eu-west-1":      "141502667606",
	"eu-west-2":      "764974769150",
	"eu-central-1":   "492215442770",
	"ap-south-1":     "720646828776",
	"ap-southeast-1": "121021644041",
	"ap-southeast-2": "783357654285",
	"ap-northeast-1": "354813040037",
}

var xgboostVersions = map[string]bool{
	"1.0-1": true,
	"1.2-1": true,
	"1.3-1": true,
	"1.5-1": true,
	"1.7-1": true,
}

// ImageURI returns the training/inference image for version in region
func (XGBoost) ImageURI(region, version string) (string, error) {
	account, ok := xgboostAccounts[region]
	if !ok {
		return "", fmt.Errorf("no xgboost image mapping for region %s", region)
	}
	if !xgboostVersions[version] {
		return "", fmt.Errorf("unsupported xgboost version %s (supported: %v)", version, SupportedVersions())
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/sagemaker-xgboost:%s", account, region, version), nil
}

// SupportedVersions lists the known framework versions
func SupportedVersions() []string {
	versions := make([]string, 0, len(xgboostVersions))
	for v := range xgboostVersions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// ScriptModeHyperparameters builds the hyperparameters of a script-mode
// training job. The container expects every value JSON encoded.
func (XGBoost) ScriptModeHyperparameters(entryPoint, sourceDirURI, region string, user map[string]string) map[string]string {
	params := map[string]string{
		"sagemaker_program":          quote(entryPoint),
		"sagemaker_submit_directory": quote(sourceDirURI),
		"sagemaker_region":           quote(region),
	}
	for k, v := range user {
		params[k] = quote(v)
	}
	return params
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
