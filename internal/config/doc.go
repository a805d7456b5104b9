// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation. Deployments without a YAML file can run entirely from
// numbered LIGHTER_<n>_* variables via FromEnv.
package config
